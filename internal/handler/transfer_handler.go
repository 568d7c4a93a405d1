package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/dto"
	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/pkg/response"
)

type transferService interface {
	CreateProposal(ctx context.Context, schoolID string, req dto.CreateProposalRequest) (*models.TransferProposal, error)
	ListOpenMarketProposals(ctx context.Context, excludingSchoolID string) ([]models.TransferProposal, error)
	ListSchoolProposals(ctx context.Context, schoolID string) ([]models.TransferProposal, error)
	GetProposal(ctx context.Context, id string) (*models.TransferProposal, error)
	CloseProposal(ctx context.Context, proposalID, schoolID string) (*models.TransferProposal, error)
	StartOrGetNegotiation(ctx context.Context, proposalID, interestedSchoolID string) (*models.TransferNegotiation, bool, error)
	GetNegotiation(ctx context.Context, id, schoolID string) (*models.TransferNegotiation, error)
	ListNegotiations(ctx context.Context, schoolID string) ([]models.TransferNegotiation, error)
	AddNegotiationMessage(ctx context.Context, negotiationID, senderID, content string) (*models.TransferNegotiation, error)
}

type transferExporter interface {
	NegotiationTranscript(ctx context.Context, negotiationID, schoolID string, format dto.ExportFormat) (*dto.ExportFile, error)
	MarketProposals(ctx context.Context, schoolID string, format dto.ExportFormat) (*dto.ExportFile, error)
}

// TransferHandler exposes the proposal marketplace and negotiation endpoints.
type TransferHandler struct {
	service  transferService
	exporter transferExporter
}

// NewTransferHandler builds a new handler.
func NewTransferHandler(service transferService, exporter transferExporter) *TransferHandler {
	return &TransferHandler{service: service, exporter: exporter}
}

// CreateProposal godoc
// @Summary Publish a transfer proposal
// @Tags Transfers
// @Accept json
// @Produce json
// @Param payload body dto.CreateProposalRequest true "Proposal payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /transfers/proposals [post]
func (h *TransferHandler) CreateProposal(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	var req dto.CreateProposalRequest
	if !bindJSON(c, &req, "invalid proposal payload") {
		return
	}
	proposal, err := h.service.CreateProposal(c.Request.Context(), schoolID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, proposal)
}

// Market godoc
// @Summary List open proposals from other schools
// @Tags Transfers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /transfers/proposals/market [get]
func (h *TransferHandler) Market(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	items, err := h.service.ListOpenMarketProposals(c.Request.Context(), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, items, len(items))
}

// Mine godoc
// @Summary List proposals published by the caller's school
// @Tags Transfers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /transfers/proposals/mine [get]
func (h *TransferHandler) Mine(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	items, err := h.service.ListSchoolProposals(c.Request.Context(), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, items, len(items))
}

// GetProposal godoc
// @Summary Get a proposal
// @Tags Transfers
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transfers/proposals/{id} [get]
func (h *TransferHandler) GetProposal(c *gin.Context) {
	proposal, err := h.service.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, proposal)
}

// CloseProposal godoc
// @Summary Close a proposal so it leaves the marketplace
// @Tags Transfers
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transfers/proposals/{id}/close [post]
func (h *TransferHandler) CloseProposal(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	proposal, err := h.service.CloseProposal(c.Request.Context(), c.Param("id"), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, proposal)
}

// StartNegotiation godoc
// @Summary Start or resume a negotiation on a proposal
// @Description Returns 201 when the thread was created and 200 when it already existed.
// @Tags Transfers
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transfers/proposals/{id}/negotiations [post]
func (h *TransferHandler) StartNegotiation(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	negotiation, created, err := h.service.StartOrGetNegotiation(c.Request.Context(), c.Param("id"), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.WithMeta(c, status, dto.StartNegotiationResponse{Negotiation: negotiation, Created: created}, nil)
}

// ListNegotiations godoc
// @Summary List negotiations the caller's school takes part in
// @Tags Transfers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /transfers/negotiations [get]
func (h *TransferHandler) ListNegotiations(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	items, err := h.service.ListNegotiations(c.Request.Context(), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// GetNegotiation godoc
// @Summary Get a negotiation thread
// @Tags Transfers
// @Produce json
// @Param id path string true "Negotiation ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /transfers/negotiations/{id} [get]
func (h *TransferHandler) GetNegotiation(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	negotiation, err := h.service.GetNegotiation(c.Request.Context(), c.Param("id"), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, negotiation)
}

// AddMessage godoc
// @Summary Post a message to a negotiation
// @Tags Transfers
// @Accept json
// @Produce json
// @Param id path string true "Negotiation ID"
// @Param payload body dto.AddMessageRequest true "Message"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /transfers/negotiations/{id}/messages [post]
func (h *TransferHandler) AddMessage(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	var req dto.AddMessageRequest
	if !bindJSON(c, &req, "invalid message payload") {
		return
	}
	negotiation, err := h.service.AddNegotiationMessage(c.Request.Context(), c.Param("id"), schoolID, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, negotiation)
}

// Transcript godoc
// @Summary Download a negotiation transcript
// @Tags Transfers
// @Produce application/pdf
// @Produce text/csv
// @Param id path string true "Negotiation ID"
// @Param format query string false "pdf or csv" default(pdf)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /transfers/negotiations/{id}/transcript [get]
func (h *TransferHandler) Transcript(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	format := dto.ExportFormat(c.DefaultQuery("format", string(dto.ExportFormatPDF)))
	file, err := h.exporter.NegotiationTranscript(c.Request.Context(), c.Param("id"), schoolID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// ExportMarket godoc
// @Summary Download the open marketplace
// @Tags Transfers
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /transfers/proposals/market/export [get]
func (h *TransferHandler) ExportMarket(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	format := dto.ExportFormat(c.DefaultQuery("format", string(dto.ExportFormatCSV)))
	file, err := h.exporter.MarketProposals(c.Request.Context(), schoolID, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

func sendFile(c *gin.Context, file *dto.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Body)
}
