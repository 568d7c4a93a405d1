package dto

import "github.com/noah-isme/school-transfer-api/internal/models"

// CreateProposalRequest payload for publishing a transfer proposal.
type CreateProposalRequest struct {
	NumberOfStudents int                   `json:"numberOfStudents" validate:"gt=0"`
	Gender           models.ProposalGender `json:"gender" validate:"required,oneof=Male Female Mixed"`
	Grade            string                `json:"grade" validate:"required,max=64"`
	Description      string                `json:"description" validate:"max=2000"`
}

// StartNegotiationResponse reports whether the negotiation was newly created.
type StartNegotiationResponse struct {
	Negotiation *models.TransferNegotiation `json:"negotiation"`
	Created     bool                        `json:"created"`
}

// AddMessageRequest payload for posting to a negotiation thread.
type AddMessageRequest struct {
	Content string `json:"content" validate:"max=4000"`
}

// InitiateTransferRequest names the destination school for an admission record.
type InitiateTransferRequest struct {
	ToSchoolID string `json:"toSchoolId" validate:"required"`
}

// RespondTransferRequest carries the student's answer to a transfer offer.
type RespondTransferRequest struct {
	FromSchoolID string                  `json:"fromSchoolId" validate:"required"`
	Response     models.TransferApproval `json:"response" validate:"required"`
}

// ReviewAdmissionRequest carries a school's decision on an under-review record.
type ReviewAdmissionRequest struct {
	Decision models.AdmissionDecision `json:"decision" validate:"required,oneof=approve reject"`
}

// ExportFormat selects the rendering of an export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered export ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}
