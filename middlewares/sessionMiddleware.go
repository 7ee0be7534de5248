package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/stocktake_backend/config"
	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// SessionKey is the redis key holding the user id for a terminal token.
func SessionKey(token string) string {
	return "Token:" + token
}

// SessionMiddleware accepts the opaque "token" header used by the handheld
// terminals. The login service stores "Token:<token>" -> user id in redis.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		raw, exists, err := config.GetRedisValue(c.Request.Context(), SessionKey(token))
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		userId, err := strconv.Atoi(raw)
		if err != nil || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUserIdInContext(ctx, userId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
