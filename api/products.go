package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/stocktake_backend/models"
)

func (h *Handler) productCard(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	countId, ok := queryInt(c, "count_id")
	if !ok {
		return
	}
	card, err := models.ProductCard(c.Request.Context(), id, countId)
	if err != nil {
		writeError(c, "productCard", err)
		return
	}
	c.JSON(http.StatusOK, card)
}

type changeDeltaRequest struct {
	Shelf   decimal.Decimal `json:"shelf"`
	CountId int             `json:"count_id"`
}

func (h *Handler) changeDelta(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req changeDeltaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "shelf", "must be a number")
		return
	}
	card, err := models.ChangeDelta(c.Request.Context(), models.ChangeDeltaInput{
		ProductId: id,
		Shelf:     req.Shelf,
		CountId:   req.CountId,
	}, actingUser(c))
	if err != nil {
		writeError(c, "changeDelta", err)
		return
	}
	c.JSON(http.StatusOK, card)
}
