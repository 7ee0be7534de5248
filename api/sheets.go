package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
)

func (h *Handler) listSheets(c *gin.Context) {
	var input models.ListSheetsInput
	input.Query = c.Query("q")
	for name, target := range map[string]*int{"offset": &input.Offset, "limit": &input.Limit, "count_id": &input.CountId} {
		if raw := c.Query(name); raw != "" {
			n, ok := parseNonNegative(raw)
			if !ok {
				badRequest(c, name, "must be a non-negative integer")
				return
			}
			*target = n
		}
	}
	for _, raw := range c.QueryArray("status") {
		status, err := models.ParseSheetListStatus(raw)
		if err != nil {
			badRequest(c, "status", err.Error())
			return
		}
		input.Statuses = append(input.Statuses, status)
	}
	page, err := models.ListSheets(c.Request.Context(), input)
	if err != nil {
		writeError(c, "listSheets", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) sheetDetail(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	detail, err := models.SheetDetail(c.Request.Context(), id)
	if err != nil {
		writeError(c, "sheetDetail", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) removeSheet(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	sheet, err := models.RemoveSheet(c.Request.Context(), id, actingUser(c))
	if err != nil {
		writeError(c, "removeSheet", err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

type createTempSheetRequest struct {
	ProductIds []int `json:"product_ids"`
	CountId    int   `json:"count_id"`
}

func (h *Handler) createTempSheet(c *gin.Context) {
	var req createTempSheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid json")
		return
	}
	result, err := models.CreateTempSheet(c.Request.Context(), req.ProductIds, req.CountId, actingUser(c))
	if err != nil {
		writeError(c, "createTempSheet", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type letterRequest struct {
	Letter  string `json:"letter"`
	CountId int    `json:"count_id"`
}

func (h *Handler) finalizeSheet(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req letterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid json")
		return
	}
	result, err := models.FinalizeSheet(c.Request.Context(), id, req.Letter, actingUser(c), h.Output)
	if err != nil {
		writeError(c, "finalizeSheet", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) closeSheet(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	sheet, err := models.CloseSheet(c.Request.Context(), id, actingUser(c))
	if err != nil {
		writeError(c, "closeSheet", err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

func (h *Handler) dynamicLetters(c *gin.Context) {
	letters, err := models.DynamicLetterAvailability(c.Request.Context())
	if err != nil {
		writeError(c, "dynamicLetters", err)
		return
	}
	c.JSON(http.StatusOK, letters)
}

func (h *Handler) createDynamicSheet(c *gin.Context) {
	var req letterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid json")
		return
	}
	result, err := models.CreateDynamicSheet(c.Request.Context(), req.Letter, req.CountId, actingUser(c), h.Output)
	if err != nil {
		writeError(c, "createDynamicSheet", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) sheetsToSign(c *gin.Context) {
	sheets, err := models.SheetsToSign(c.Request.Context(), actingUser(c))
	if err != nil {
		writeError(c, "sheetsToSign", err)
		return
	}
	c.JSON(http.StatusOK, sheets)
}

func (h *Handler) sheetToSignPositions(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	positions, err := models.SheetToSignPositions(c.Request.Context(), id, actingUser(c))
	if err != nil {
		writeError(c, "sheetToSignPositions", err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (h *Handler) signSheet(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input models.SignSheetInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "body", "invalid json")
		return
	}
	sheet, err := models.SignSheet(c.Request.Context(), id, input, actingUser(c))
	if err != nil {
		writeError(c, "signSheet", err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

func parseNonNegative(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	return n, err == nil && n >= 0
}
