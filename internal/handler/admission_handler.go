package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/dto"
	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/pkg/response"
)

type admissionService interface {
	ListAdmissions(ctx context.Context, schoolID string) ([]models.CompletedAdmission, error)
	ReviewAdmission(ctx context.Context, admissionID, schoolID string, decision models.AdmissionDecision) (*models.CompletedAdmission, error)
	InitiateTransfer(ctx context.Context, admissionID, fromSchoolID, toSchoolID string) (*models.CompletedAdmission, error)
}

// AdmissionHandler exposes a school's admission records.
type AdmissionHandler struct {
	service admissionService
}

// NewAdmissionHandler builds a new handler.
func NewAdmissionHandler(service admissionService) *AdmissionHandler {
	return &AdmissionHandler{service: service}
}

// List godoc
// @Summary List admission records owned by the caller's school
// @Tags Admissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admissions [get]
func (h *AdmissionHandler) List(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	items, err := h.service.ListAdmissions(c.Request.Context(), schoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Review godoc
// @Summary Approve or reject an admission under review
// @Tags Admissions
// @Accept json
// @Produce json
// @Param id path string true "Admission ID"
// @Param payload body dto.ReviewAdmissionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admissions/{id}/review [post]
func (h *AdmissionHandler) Review(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	var req dto.ReviewAdmissionRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}
	admission, err := h.service.ReviewAdmission(c.Request.Context(), c.Param("id"), schoolID, req.Decision)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, admission)
}

// Transfer godoc
// @Summary Offer an admitted student to another school
// @Tags Admissions
// @Accept json
// @Produce json
// @Param id path string true "Admission ID"
// @Param payload body dto.InitiateTransferRequest true "Destination school"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admissions/{id}/transfer [post]
func (h *AdmissionHandler) Transfer(c *gin.Context) {
	schoolID, ok := actingSchool(c)
	if !ok {
		return
	}
	var req dto.InitiateTransferRequest
	if !bindJSON(c, &req, "invalid transfer payload") {
		return
	}
	admission, err := h.service.InitiateTransfer(c.Request.Context(), c.Param("id"), schoolID, req.ToSchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, admission)
}
