package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(header string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(headerKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestRequestIDReusesInbound(t *testing.T) {
	w, seen := serve("trace-123")
	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", w.Header().Get(headerKey))
}

func TestRequestIDReplacesUnusableInbound(t *testing.T) {
	for _, inbound := range []string{"", "has space", strings.Repeat("a", maxInboundLength+1)} {
		_, seen := serve(inbound)
		_, err := uuid.Parse(seen)
		require.NoError(t, err, "inbound %q", inbound)
	}
}
