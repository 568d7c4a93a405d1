package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/service"
)

// Actor copies the authenticated user id onto the request context so the
// audit trail written by services names who performed each transition.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if value, ok := c.Get(ContextUserKey); ok {
			if claims, ok := value.(*models.JWTClaims); ok && claims.UserID != "" {
				c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), claims.UserID))
			}
		}
		c.Next()
	}
}
