package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/presencelabs/meetledger/internal/config"
	"github.com/presencelabs/meetledger/internal/modules/serializer"
)

// APIAuth authenticates requests against the single operator token from
// config. An empty configured token disables auth (local development).
func APIAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := cfg.Server.APIToken
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}

		c.Next()
	}
}
