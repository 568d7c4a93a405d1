package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
	"github.com/noah-isme/school-transfer-api/pkg/middleware/requestid"
)

// Envelope is the body of every JSON response. Exactly one of Data or Error
// is meaningful.
type Envelope struct {
	Data  interface{}            `json:"data,omitempty"`
	Error *appErrors.Error       `json:"error,omitempty"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// Transfer data is per-tenant, so nothing is cacheable by intermediaries.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
}

// WithMeta writes data and meta under status.
func WithMeta(c *gin.Context, status int, data interface{}, meta map[string]interface{}) {
	noStore(c)
	c.JSON(status, Envelope{Data: data, Meta: meta})
}

// OK writes data with HTTP 200.
func OK(c *gin.Context, data interface{}) {
	WithMeta(c, http.StatusOK, data, nil)
}

// Created writes data with HTTP 201.
func Created(c *gin.Context, data interface{}) {
	WithMeta(c, http.StatusCreated, data, nil)
}

// List writes a collection with its size under meta.count.
func List(c *gin.Context, items interface{}, count int) {
	WithMeta(c, http.StatusOK, items, map[string]interface{}{"count": count})
}

// Error writes err as an error envelope. Server-side failures are attached to
// the gin context for the access log and tagged with the request id.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	var meta map[string]interface{}
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if id := requestid.Value(c); id != "" {
			meta = map[string]interface{}{"requestId": id}
		}
	}
	noStore(c)
	c.JSON(appErr.Status, Envelope{Error: appErr, Meta: meta})
}

// NoContent writes HTTP 204 with no body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}
