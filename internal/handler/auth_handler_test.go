package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/service"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

type authServiceMock struct {
	lastLogin    models.LoginRequest
	loginErr     error
	logoutUserID string
	logoutErr    error
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.lastLogin = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.LoginResponse{TokenPair: models.TokenPair{AccessToken: "access", RefreshToken: "refresh"}}, nil
}

func (m *authServiceMock) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	return &models.TokenPair{AccessToken: "access-2"}, nil
}

func (m *authServiceMock) Logout(ctx context.Context, userID string, req models.LogoutRequest) error {
	m.logoutUserID = userID
	return m.logoutErr
}

func TestAuthHandlerLogin(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc)

	c, w := newTestContext(http.MethodPost, "/auth/login", `{"email":"admin@lake.example","password":"secret"}`, nil)
	c.Request.Header.Set("User-Agent", "test-agent")
	handler.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-agent", svc.lastLogin.UserAgent)
	assert.Contains(t, string(decodeEnvelope(t, w)["data"]), `"access_token":"access"`)

	svc.loginErr = appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	c, w = newTestContext(http.MethodPost, "/auth/login", `{"email":"admin@lake.example","password":"wrong"}`, nil)
	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLoginRejectsMalformedBody(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})

	c, w := newTestContext(http.MethodPost, "/auth/login", `{"email":`, nil)
	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w)["error"]), "VALIDATION_ERROR")
}

func TestAuthHandlerLogout(t *testing.T) {
	svc := &authServiceMock{}
	handler := NewAuthHandler(svc)

	c, w := newTestContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r1"}`, schoolAdmin)
	handler.Logout(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, schoolAdmin.UserID, svc.logoutUserID)

	svc.logoutErr = appErrors.Clone(appErrors.ErrForbidden, "refresh token belongs to another account")
	c, w = newTestContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r2"}`, schoolAdmin)
	handler.Logout(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newTestContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r1"}`, nil)
	handler.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMeIncludesTenant(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})

	c, w := newTestContext(http.MethodGet, "/auth/me", "", schoolAdmin)
	handler.Me(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w)["data"]), `"school_id":"school-b"`)
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	failing := func(ctx context.Context) error { return errors.New("connection refused") }

	handler := NewMetricsHandler(nil, map[string]ReadinessCheck{"postgres": ok})
	c, w := newTestContext(http.MethodGet, "/ready", "", nil)
	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	handler = NewMetricsHandler(nil, map[string]ReadinessCheck{"postgres": ok, "redis": failing})
	c, w = newTestContext(http.MethodGet, "/ready", "", nil)
	handler.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"connection refused"`)
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	c, w := newTestContext(http.MethodGet, "/metrics", "", nil)
	NewMetricsHandler(nil, nil).Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.True(t, c.IsAborted())

	metrics := service.NewMetricsService()
	metrics.RecordTransition("proposal_created")
	c, w = newTestContext(http.MethodGet, "/metrics", "", nil)
	NewMetricsHandler(metrics, nil).Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "school_transfer_")
}
