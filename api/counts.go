package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
)

func (h *Handler) listCounts(c *gin.Context) {
	counts, err := models.ListCounts(c.Request.Context())
	if err != nil {
		writeError(c, "listCounts", err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) getCount(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	count, err := models.GetCount(c.Request.Context(), id)
	if err != nil {
		writeError(c, "getCount", err)
		return
	}
	c.JSON(http.StatusOK, count)
}

type createCountRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createCount(c *gin.Context) {
	var req createCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", "invalid json")
		return
	}
	count, err := models.CreateCount(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, "createCount", err)
		return
	}
	c.JSON(http.StatusCreated, count)
}
