package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/models"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
	"github.com/noah-isme/school-transfer-api/pkg/response"
)

// RequireRoles admits callers holding one of the roles. A school admin must
// also be bound to a school and a student to a student record, since handlers
// act on those ids.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		switch {
		case claims.Role == models.RoleSchoolAdmin && claims.SchoolID == "":
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not bound to a school"))
			c.Abort()
			return
		case claims.Role == models.RoleStudent && claims.StudentID == "":
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not bound to a student"))
			c.Abort()
			return
		}

		c.Next()
	}
}
