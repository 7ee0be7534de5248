package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// statusOf maps an error kind to the HTTP status returned for it.
func statusOf(err error) int {
	kind, ok := utils.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case utils.KindValidation:
		return http.StatusBadRequest
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, funcName string, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		body["kind"] = appErr.Kind.String()
		if len(appErr.Fields) > 0 {
			body["fields"] = appErr.Fields
		}
	}
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "api", funcName, c.Request.URL.Path, nil, err)
		body = gin.H{"error": "internal error"}
	}
	if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
		body["correlation_id"] = cid
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, field string, reason string) {
	writeError(c, "bind", utils.NewFieldError(field, reason))
}
