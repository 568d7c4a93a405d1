package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-transfer-api/internal/dto"
	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/service"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
	"github.com/noah-isme/school-transfer-api/pkg/response"
)

type offerService interface {
	FindPendingTransfer(ctx context.Context, studentID, toSchoolID string) (*models.CompletedAdmission, error)
	RespondAsStudent(ctx context.Context, studentID, admissionID, fromSchoolID string, response models.TransferApproval) (*service.TransferOutcome, error)
}

// OfferHandler lets students see and answer transfer offers.
type OfferHandler struct {
	service offerService
}

// NewOfferHandler builds a new handler.
func NewOfferHandler(service offerService) *OfferHandler {
	return &OfferHandler{service: service}
}

// Pending godoc
// @Summary Get the caller's pending transfer offer to a school
// @Description data is null when there is no pending offer.
// @Tags Offers
// @Produce json
// @Param toSchoolId query string true "Destination school"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /transfers/offers/pending [get]
func (h *OfferHandler) Pending(c *gin.Context) {
	studentID, ok := actingStudent(c)
	if !ok {
		return
	}
	toSchoolID := c.Query("toSchoolId")
	if toSchoolID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "toSchoolId is required"))
		return
	}
	admission, err := h.service.FindPendingTransfer(c.Request.Context(), studentID, toSchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if admission == nil {
		response.WithMeta(c, http.StatusOK, nil, map[string]interface{}{"pending": false})
		return
	}
	response.WithMeta(c, http.StatusOK, admission, map[string]interface{}{"pending": true})
}

// Respond godoc
// @Summary Accept or reject a transfer offer
// @Tags Offers
// @Accept json
// @Produce json
// @Param id path string true "Admission ID"
// @Param payload body dto.RespondTransferRequest true "Response"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transfers/offers/{id}/respond [post]
func (h *OfferHandler) Respond(c *gin.Context) {
	studentID, ok := actingStudent(c)
	if !ok {
		return
	}
	var req dto.RespondTransferRequest
	if !bindJSON(c, &req, "invalid response payload") {
		return
	}
	outcome, err := h.service.RespondAsStudent(c.Request.Context(), studentID, c.Param("id"), req.FromSchoolID, req.Response)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, outcome)
}
