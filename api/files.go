package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/models/reports"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

const maxDeviceFileSize = 10 << 20

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDeviceFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDeviceFileSize {
		return nil, utils.NewFieldError("files", fh.Filename+" is too large")
	}
	return data, nil
}

// importFiles takes the device files as multipart "files" and the count as
// form field "count_id".
func (h *Handler) importFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "files", "multipart form required")
		return
	}
	countId, err := strconv.Atoi(c.PostForm("count_id"))
	if err != nil || countId <= 0 {
		badRequest(c, "count_id", "must be a positive integer")
		return
	}
	var uploads []models.DeviceFileUpload
	for _, fh := range form.File["files"] {
		data, err := readUpload(fh)
		if err != nil {
			writeError(c, "importFiles", err)
			return
		}
		uploads = append(uploads, models.DeviceFileUpload{FileName: fh.Filename, Content: data})
	}
	report, err := models.ImportDeviceFiles(c.Request.Context(), h.Store, uploads, countId, actingUser(c))
	if err != nil {
		writeError(c, "importFiles", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type exportRequest struct {
	CountId int `json:"count_id"`
}

func (h *Handler) exportCount(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid json")
		return
	}
	ctx := c.Request.Context()
	result, err := models.ExportCount(ctx, h.Store, req.CountId, actingUser(c))
	if err != nil {
		writeError(c, "exportCount", err)
		return
	}
	workbook, err := reports.StoreExportWorkbook(ctx, h.Store, result)
	if err != nil {
		// the csv is the hand-off, the workbook only a convenience
		config.GetLogger().WithField("count_id", req.CountId).Warn("export workbook not written: " + err.Error())
	}
	c.JSON(http.StatusOK, gin.H{"export": result, "workbook": workbook})
}

func (h *Handler) listExports(c *gin.Context) {
	countId, ok := queryInt(c, "count_id")
	if !ok {
		return
	}
	list, err := models.ListExports(c.Request.Context(), h.Store, countId)
	if err != nil {
		writeError(c, "listExports", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// download serves stored exports and documents. Raw device files stay
// internal.
func (h *Handler) download(c *gin.Context) {
	key := strings.TrimPrefix(path.Clean("/"+c.Param("key")), "/")
	if !strings.HasPrefix(key, "exports/") && !strings.HasPrefix(key, "documents/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	data, err := h.Store.Get(c.Request.Context(), key)
	if errors.Is(err, utils.ErrBlobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		writeError(c, "download", err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+path.Base(key))
	c.Data(http.StatusOK, contentTypeOf(key), data)
}

func contentTypeOf(key string) string {
	switch path.Ext(key) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
