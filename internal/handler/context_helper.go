package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/middleware"
	"github.com/noah-isme/school-transfer-api/internal/models"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
	"github.com/noah-isme/school-transfer-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actingSchool returns the school the caller acts for, writing an error
// response when there is none.
func actingSchool(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	if claims.SchoolID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not bound to a school"))
		return "", false
	}
	return claims.SchoolID, true
}

func actingStudent(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	if claims.StudentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not bound to a student"))
		return "", false
	}
	return claims.StudentID, true
}

// bindJSON decodes the body into dest, writing a 400 on failure.
func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Invalid(err, message))
		return false
	}
	return true
}
