package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-transfer-api/internal/dto"
	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/pkg/export"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

type transferReader interface {
	GetNegotiation(ctx context.Context, id, schoolID string) (*models.TransferNegotiation, error)
	GetProposal(ctx context.Context, id string) (*models.TransferProposal, error)
	ListOpenMarketProposals(ctx context.Context, excludingSchoolID string) ([]models.TransferProposal, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportService renders negotiation transcripts and the proposal market as
// downloadable CSV or PDF documents.
type ExportService struct {
	transfers  transferReader
	identities IdentityLookup
	csv        datasetRenderer
	pdf        datasetRenderer
	logger     *zap.Logger
	now        func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the
// package defaults.
func NewExportService(transfers transferReader, identities IdentityLookup, logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		transfers:  transfers,
		identities: identities,
		csv:        csv,
		pdf:        pdf,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NegotiationTranscript renders the full message thread of a negotiation the
// school is party to.
func (s *ExportService) NegotiationTranscript(ctx context.Context, negotiationID, schoolID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	negotiation, err := s.transfers.GetNegotiation(ctx, negotiationID, schoolID)
	if err != nil {
		return nil, err
	}
	proposal, err := s.transfers.GetProposal(ctx, negotiation.ProposalID)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(negotiation.Messages))
	for i, message := range negotiation.Messages {
		rows = append(rows, map[string]string{
			"#":       strconv.Itoa(i + 1),
			"Sent":    message.Timestamp.UTC().Format(time.RFC3339),
			"Sender":  message.SenderName,
			"Message": message.Content,
		})
	}
	dataset := export.Dataset{
		Title: "Transfer Negotiation Transcript",
		Notes: []string{
			fmt.Sprintf("Proposal: %d %s students, %s", proposal.NumberOfStudents, proposal.Gender, proposal.Grade),
			fmt.Sprintf("Between: %s and %s", s.schoolName(ctx, negotiation.ProposingSchoolID), s.schoolName(ctx, negotiation.InterestedSchoolID)),
			"Generated: " + s.now().Format(time.RFC3339),
		},
		Headers: []string{"#", "Sent", "Sender", "Message"},
		Widths:  []float64{1, 4, 4, 11},
		Rows:    rows,
	}
	return s.render(dataset, "negotiation_"+negotiation.ID, format)
}

// MarketProposals renders the open proposals visible to schoolID.
func (s *ExportService) MarketProposals(ctx context.Context, schoolID string, format dto.ExportFormat) (*dto.ExportFile, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	proposals, err := s.transfers.ListOpenMarketProposals(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(proposals))
	for _, proposal := range proposals {
		rows = append(rows, map[string]string{
			"School":      s.schoolName(ctx, proposal.ProposingSchoolID),
			"Students":    strconv.Itoa(proposal.NumberOfStudents),
			"Gender":      string(proposal.Gender),
			"Grade":       proposal.Grade,
			"Description": proposal.Description,
			"Posted":      proposal.CreatedAt.UTC().Format("2006-01-02"),
		})
	}
	dataset := export.Dataset{
		Title:   "Open Transfer Proposals",
		Notes:   []string{"Generated: " + s.now().Format(time.RFC3339)},
		Headers: []string{"School", "Students", "Gender", "Grade", "Description", "Posted"},
		Widths:  []float64{4, 2, 2, 2, 7, 3},
		Rows:    rows,
	}
	return s.render(dataset, "transfer_market", format)
}

func (s *ExportService) render(dataset export.Dataset, name string, format dto.ExportFormat) (*dto.ExportFile, error) {
	var (
		body        []byte
		err         error
		contentType string
	)
	switch format {
	case dto.ExportFormatPDF:
		body, err = s.pdf.Render(dataset)
		contentType = "application/pdf"
	default:
		body, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("%s_%s.%s", sanitizeFilename(name), s.now().Format("20060102_150405"), format)
	return &dto.ExportFile{Filename: filename, ContentType: contentType, Body: body}, nil
}

func (s *ExportService) schoolName(ctx context.Context, id string) string {
	school, err := s.identities.ResolveSchool(ctx, id)
	if err != nil {
		s.logger.Warn("failed to resolve school for export", zap.String("school_id", id), zap.Error(err))
		return id
	}
	if school == nil || school.Name == "" {
		return id
	}
	return school.Name
}

func validateFormat(format dto.ExportFormat) error {
	switch format {
	case dto.ExportFormatCSV, dto.ExportFormatPDF:
		return nil
	}
	return appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
