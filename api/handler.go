package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/stocktake_backend/middlewares"
	"bitbucket.org/mmdatafocus/stocktake_backend/models"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// Handler serves the stocktake operations over HTTP.
type Handler struct {
	Store  utils.BlobStore
	Output models.SheetOutput
}

func NewHandler(store utils.BlobStore, output models.SheetOutput) *Handler {
	return &Handler{Store: store, Output: output}
}

// Register mounts every route under r. Everything except the health check
// needs an authenticated user.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api", middlewares.RequireUser())

	g.GET("/counts", h.listCounts)
	g.POST("/counts", h.createCount)
	g.GET("/counts/:id", h.getCount)

	g.GET("/sheets", h.listSheets)
	g.GET("/sheets/:id", h.sheetDetail)
	g.DELETE("/sheets/:id", h.removeSheet)
	g.POST("/sheets/temporary", h.createTempSheet)
	g.POST("/sheets/:id/finalize", h.finalizeSheet)
	g.POST("/sheets/:id/close", h.closeSheet)
	g.GET("/dynamic-sheets/letters", h.dynamicLetters)
	g.POST("/dynamic-sheets", h.createDynamicSheet)

	g.GET("/sign/sheets", h.sheetsToSign)
	g.GET("/sign/sheets/:id/positions", h.sheetToSignPositions)
	g.POST("/sign/sheets/:id", h.signSheet)

	g.GET("/products/:id/card", h.productCard)
	g.POST("/products/:id/delta", h.changeDelta)

	g.POST("/imports", h.importFiles)

	g.GET("/exports", h.listExports)
	g.POST("/exports", h.exportCount)
	g.GET("/files/*key", h.download)
}

// actingUser is the authenticated user. RequireUser guarantees it is set.
func actingUser(c *gin.Context) int {
	id, _ := utils.GetUserIdFromContext(c.Request.Context())
	return id
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, name, "must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		badRequest(c, name, "required")
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, name, "must be a positive integer")
		return 0, false
	}
	return n, true
}
