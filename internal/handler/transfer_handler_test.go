package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-transfer-api/internal/dto"
	"github.com/noah-isme/school-transfer-api/internal/middleware"
	"github.com/noah-isme/school-transfer-api/internal/models"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

type transferServiceMock struct {
	createResp  *models.TransferProposal
	createErr   error
	marketResp  []models.TransferProposal
	negotiation *models.TransferNegotiation
	created     bool
	startErr    error
	messageErr  error

	lastSchool    string
	lastProposal  string
	lastSender    string
	lastContent   string
	lastExcluding string
}

func (m *transferServiceMock) CreateProposal(ctx context.Context, schoolID string, req dto.CreateProposalRequest) (*models.TransferProposal, error) {
	m.lastSchool = schoolID
	return m.createResp, m.createErr
}

func (m *transferServiceMock) ListOpenMarketProposals(ctx context.Context, excludingSchoolID string) ([]models.TransferProposal, error) {
	m.lastExcluding = excludingSchoolID
	return m.marketResp, nil
}

func (m *transferServiceMock) ListSchoolProposals(ctx context.Context, schoolID string) ([]models.TransferProposal, error) {
	m.lastSchool = schoolID
	return nil, nil
}

func (m *transferServiceMock) GetProposal(ctx context.Context, id string) (*models.TransferProposal, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
}

func (m *transferServiceMock) CloseProposal(ctx context.Context, proposalID, schoolID string) (*models.TransferProposal, error) {
	return nil, appErrors.Clone(appErrors.ErrInvalidState, "proposal is already closed")
}

func (m *transferServiceMock) StartOrGetNegotiation(ctx context.Context, proposalID, interestedSchoolID string) (*models.TransferNegotiation, bool, error) {
	m.lastProposal = proposalID
	m.lastSchool = interestedSchoolID
	return m.negotiation, m.created, m.startErr
}

func (m *transferServiceMock) GetNegotiation(ctx context.Context, id, schoolID string) (*models.TransferNegotiation, error) {
	return nil, appErrors.ErrForbidden
}

func (m *transferServiceMock) ListNegotiations(ctx context.Context, schoolID string) ([]models.TransferNegotiation, error) {
	return nil, nil
}

func (m *transferServiceMock) AddNegotiationMessage(ctx context.Context, negotiationID, senderID, content string) (*models.TransferNegotiation, error) {
	m.lastSender = senderID
	m.lastContent = content
	return m.negotiation, m.messageErr
}

type exporterMock struct {
	lastFormat dto.ExportFormat
	err        error
}

func (m *exporterMock) NegotiationTranscript(ctx context.Context, negotiationID, schoolID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	m.lastFormat = format
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ExportFile{Filename: "negotiation_20260101_120000.pdf", ContentType: "application/pdf", Body: []byte("%PDF-1.3")}, nil
}

func (m *exporterMock) MarketProposals(ctx context.Context, schoolID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	m.lastFormat = format
	return &dto.ExportFile{Filename: "market_20260101_120000.csv", ContentType: "text/csv", Body: []byte("a,b\n")}, nil
}

var schoolAdmin = &models.JWTClaims{UserID: "u-1", Role: models.RoleSchoolAdmin, SchoolID: "school-b"}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestTransferHandlerCreateUsesSchoolFromClaims(t *testing.T) {
	svc := &transferServiceMock{createResp: &models.TransferProposal{ID: "p-1", ProposingSchoolID: "school-b"}}
	handler := NewTransferHandler(svc, &exporterMock{})

	c, w := newTestContext(http.MethodPost, "/transfers/proposals",
		`{"numberOfStudents":10,"gender":"Mixed","grade":"S.1","proposingSchoolId":"school-z"}`, schoolAdmin)
	handler.CreateProposal(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "school-b", svc.lastSchool)
}

func TestTransferHandlerCreateRejectsMalformedBody(t *testing.T) {
	handler := NewTransferHandler(&transferServiceMock{}, &exporterMock{})

	c, w := newTestContext(http.MethodPost, "/transfers/proposals", `{"numberOfStudents":`, schoolAdmin)
	handler.CreateProposal(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransferHandlerRequiresSchoolBinding(t *testing.T) {
	handler := NewTransferHandler(&transferServiceMock{}, &exporterMock{})

	c, w := newTestContext(http.MethodGet, "/transfers/proposals/market", "", nil)
	handler.Market(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newTestContext(http.MethodGet, "/transfers/proposals/market", "",
		&models.JWTClaims{UserID: "u-9", Role: models.RoleStudent, StudentID: "student-1"})
	handler.Market(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTransferHandlerMarketExcludesCaller(t *testing.T) {
	svc := &transferServiceMock{marketResp: []models.TransferProposal{{ID: "p-1"}, {ID: "p-2"}}}
	handler := NewTransferHandler(svc, &exporterMock{})

	c, w := newTestContext(http.MethodGet, "/transfers/proposals/market", "", schoolAdmin)
	handler.Market(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "school-b", svc.lastExcluding)
	envelope := decodeEnvelope(t, w)
	assert.JSONEq(t, `{"count":2}`, string(envelope["meta"]))
}

func TestTransferHandlerStartNegotiationStatus(t *testing.T) {
	neg := &models.TransferNegotiation{ID: "n-1", ProposalID: "p-1", ProposingSchoolID: "school-a", InterestedSchoolID: "school-b"}
	svc := &transferServiceMock{negotiation: neg, created: true}
	handler := NewTransferHandler(svc, &exporterMock{})

	c, w := newTestContext(http.MethodPost, "/transfers/proposals/p-1/negotiations", "", schoolAdmin)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}
	handler.StartNegotiation(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "p-1", svc.lastProposal)
	assert.Equal(t, "school-b", svc.lastSchool)

	svc.created = false
	c, w = newTestContext(http.MethodPost, "/transfers/proposals/p-1/negotiations", "", schoolAdmin)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}
	handler.StartNegotiation(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w)["data"]), `"created":false`)
}

func TestTransferHandlerErrorStatuses(t *testing.T) {
	svc := &transferServiceMock{startErr: appErrors.Clone(appErrors.ErrValidation, "a school cannot negotiate on its own proposal")}
	handler := NewTransferHandler(svc, &exporterMock{})

	c, w := newTestContext(http.MethodPost, "/transfers/proposals/p-1/negotiations", "", schoolAdmin)
	handler.StartNegotiation(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPost, "/transfers/proposals/p-1/close", "", schoolAdmin)
	handler.CloseProposal(c)
	assert.Equal(t, http.StatusConflict, w.Code)

	c, w = newTestContext(http.MethodGet, "/transfers/proposals/missing", "", schoolAdmin)
	handler.GetProposal(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, w = newTestContext(http.MethodGet, "/transfers/negotiations/n-1", "", schoolAdmin)
	handler.GetNegotiation(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTransferHandlerAddMessageSenderFromClaims(t *testing.T) {
	svc := &transferServiceMock{negotiation: &models.TransferNegotiation{ID: "n-1"}}
	handler := NewTransferHandler(svc, &exporterMock{})

	c, w := newTestContext(http.MethodPost, "/transfers/negotiations/n-1/messages", `{"content":"Interested","senderId":"school-a"}`, schoolAdmin)
	c.Params = gin.Params{{Key: "id", Value: "n-1"}}
	handler.AddMessage(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "school-b", svc.lastSender)
	assert.Equal(t, "Interested", svc.lastContent)
}

func TestTransferHandlerTranscriptDownload(t *testing.T) {
	exporter := &exporterMock{}
	handler := NewTransferHandler(&transferServiceMock{}, exporter)

	c, w := newTestContext(http.MethodGet, "/transfers/negotiations/n-1/transcript", "", schoolAdmin)
	c.Params = gin.Params{{Key: "id", Value: "n-1"}}
	handler.Transcript(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.ExportFormatPDF, exporter.lastFormat)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "negotiation_20260101_120000.pdf")

	exporter.err = appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	c, w = newTestContext(http.MethodGet, "/transfers/negotiations/n-1/transcript?format=xlsx", "", schoolAdmin)
	handler.Transcript(c)
	assert.Equal(t, dto.ExportFormat("xlsx"), exporter.lastFormat)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransferHandlerExportMarketDefaultsToCSV(t *testing.T) {
	exporter := &exporterMock{}
	handler := NewTransferHandler(&transferServiceMock{}, exporter)

	c, w := newTestContext(http.MethodGet, "/transfers/proposals/market/export", "", schoolAdmin)
	handler.ExportMarket(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.ExportFormatCSV, exporter.lastFormat)
	assert.Equal(t, "a,b\n", w.Body.String())
}
