package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/school-transfer-api/internal/dto"
	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/repository"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

// TransferredAnnotationPrefix marks the school-name field of a record copied
// to a new school on an accepted transfer.
const TransferredAnnotationPrefix = "Transferred from another school - "

type proposalStore interface {
	Create(ctx context.Context, proposal *models.TransferProposal) error
	GetByID(ctx context.Context, id string) (*models.TransferProposal, error)
	List(ctx context.Context, filter models.ProposalFilter) ([]models.TransferProposal, error)
	UpdateStatus(ctx context.Context, id string, from, to models.ProposalStatus) error
}

type negotiationStore interface {
	Create(ctx context.Context, negotiation *models.TransferNegotiation) error
	GetByID(ctx context.Context, id string) (*models.TransferNegotiation, error)
	FindByProposalAndSchool(ctx context.Context, proposalID, interestedSchoolID string) (*models.TransferNegotiation, error)
	ListBySchool(ctx context.Context, schoolID string) ([]models.TransferNegotiation, error)
	AppendMessage(ctx context.Context, message *models.NegotiationMessage) error
}

type admissionStore interface {
	Get(ctx context.Context, id string) (*models.CompletedAdmission, error)
	ListBySchool(ctx context.Context, schoolID string) ([]models.CompletedAdmission, error)
	Put(ctx context.Context, admission *models.CompletedAdmission) error
	FindPendingTransfers(ctx context.Context, studentID, toSchoolID string, limit int) ([]models.CompletedAdmission, error)
	Atomic(ctx context.Context, fn func(repository.AdmissionWriter) error) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type transferEventPublisher interface {
	Publish(ctx context.Context, event models.TransferEvent) error
}

type actorKey struct{}

// WithActor attaches the acting user to ctx for audit trails.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFrom(ctx context.Context) *string {
	userID, ok := ctx.Value(actorKey{}).(string)
	if !ok || userID == "" {
		return nil
	}
	return &userID
}

// TransferService runs the cross-school transfer workflow: proposals, the
// marketplace, negotiations, transfer offers and the student's answer.
type TransferService struct {
	proposals    proposalStore
	negotiations negotiationStore
	admissions   admissionStore
	identities   IdentityLookup
	audit        auditLogger
	events       transferEventPublisher
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// TransferServiceOption configures the service.
type TransferServiceOption func(*TransferService)

// WithTransferEvents sets the publisher notified after each transition.
func WithTransferEvents(publisher transferEventPublisher) TransferServiceOption {
	return func(s *TransferService) {
		s.events = publisher
	}
}

// WithTransferMetrics sets the metrics sink.
func WithTransferMetrics(metrics *MetricsService) TransferServiceOption {
	return func(s *TransferService) {
		s.metrics = metrics
	}
}

// WithTransferValidator overrides the struct validator.
func WithTransferValidator(validate *validator.Validate) TransferServiceOption {
	return func(s *TransferService) {
		if validate != nil {
			s.validator = validate
		}
	}
}

// WithTransferClock overrides the clock used for message timestamps.
func WithTransferClock(now func() time.Time) TransferServiceOption {
	return func(s *TransferService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTransferService constructs the service with defaults.
func NewTransferService(
	proposals proposalStore,
	negotiations negotiationStore,
	admissions admissionStore,
	identities IdentityLookup,
	audit auditLogger,
	logger *zap.Logger,
	opts ...TransferServiceOption,
) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &TransferService{
		proposals:    proposals,
		negotiations: negotiations,
		admissions:   admissions,
		identities:   identities,
		audit:        audit,
		validator:    validator.New(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CreateProposal publishes a new open proposal for schoolID.
func (s *TransferService) CreateProposal(ctx context.Context, schoolID string, req dto.CreateProposalRequest) (*models.TransferProposal, error) {
	req.Grade = strings.TrimSpace(req.Grade)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid proposal payload")
	}
	school, err := s.identities.ResolveSchool(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to resolve school")
	}
	if school == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposing school is unknown")
	}

	proposal := &models.TransferProposal{
		ID:                uuid.NewString(),
		ProposingSchoolID: school.ID,
		NumberOfStudents:  req.NumberOfStudents,
		Gender:            req.Gender,
		Grade:             req.Grade,
		Description:       req.Description,
		Status:            models.ProposalStatusOpen,
	}
	if err := s.proposals.Create(ctx, proposal); err != nil {
		return nil, appErrors.Storage(err, "failed to create proposal")
	}

	s.logger.Info("transfer proposal created",
		zap.String("proposal_id", proposal.ID),
		zap.String("school_id", school.ID),
		zap.Int("students", proposal.NumberOfStudents),
	)
	s.metrics.RecordTransition("proposal_created")
	s.emitAudit(ctx, models.AuditActionProposalCreate, "transfer_proposal", proposal.ID, nil, proposal)
	s.emitEvent(ctx, models.TransferEvent{
		Type:       models.EventProposalCreated,
		Broadcast:  true,
		ProposalID: proposal.ID,
	})
	return proposal, nil
}

// ListOpenMarketProposals returns every open proposal not made by excludingSchoolID.
func (s *TransferService) ListOpenMarketProposals(ctx context.Context, excludingSchoolID string) ([]models.TransferProposal, error) {
	proposals, err := s.proposals.List(ctx, models.ProposalFilter{
		Status:          models.ProposalStatusOpen,
		ExcludingSchool: excludingSchoolID,
	})
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list market proposals")
	}
	return proposals, nil
}

// ListSchoolProposals returns the school's own proposals, open and closed.
func (s *TransferService) ListSchoolProposals(ctx context.Context, schoolID string) ([]models.TransferProposal, error) {
	proposals, err := s.proposals.List(ctx, models.ProposalFilter{ProposingSchool: schoolID})
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list proposals")
	}
	return proposals, nil
}

// GetProposal fetches a proposal by id.
func (s *TransferService) GetProposal(ctx context.Context, id string) (*models.TransferProposal, error) {
	proposal, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "proposal not found", "failed to load proposal")
	}
	return proposal, nil
}

// CloseProposal withdraws an open proposal from the marketplace. Only the
// proposing school may close it, and only once one of its negotiations has
// ended in a transfer the student accepted.
func (s *TransferService) CloseProposal(ctx context.Context, proposalID, schoolID string) (*models.TransferProposal, error) {
	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.ProposingSchoolID != schoolID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the proposing school can close a proposal")
	}
	if proposal.Status != models.ProposalStatusOpen {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "proposal is already closed")
	}
	concluded, err := s.concludedInTransfer(ctx, proposal)
	if err != nil {
		return nil, err
	}
	if !concluded {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "no negotiation on this proposal has ended in an accepted transfer")
	}
	if err := s.proposals.UpdateStatus(ctx, proposal.ID, models.ProposalStatusOpen, models.ProposalStatusClosed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "proposal is already closed")
		}
		return nil, appErrors.Storage(err, "failed to close proposal")
	}
	proposal.Status = models.ProposalStatusClosed

	s.logger.Info("transfer proposal closed", zap.String("proposal_id", proposal.ID), zap.String("school_id", schoolID))
	s.metrics.RecordTransition("proposal_closed")
	s.emitAudit(ctx, models.AuditActionProposalClose, "transfer_proposal", proposal.ID,
		map[string]string{"status": string(models.ProposalStatusOpen)},
		map[string]string{"status": string(models.ProposalStatusClosed)},
	)
	s.emitEvent(ctx, models.TransferEvent{
		Type:       models.EventProposalClosed,
		Broadcast:  true,
		ProposalID: proposal.ID,
	})
	return proposal, nil
}

// concludedInTransfer reports whether a student accepted a transfer between
// the proposing school and a school that negotiated on the proposal, in
// either direction.
func (s *TransferService) concludedInTransfer(ctx context.Context, proposal *models.TransferProposal) (bool, error) {
	negotiations, err := s.negotiations.ListBySchool(ctx, proposal.ProposingSchoolID)
	if err != nil {
		return false, appErrors.Storage(err, "failed to list negotiations")
	}
	partners := make(map[string]struct{})
	for _, n := range negotiations {
		if n.ProposalID == proposal.ID {
			partners[n.InterestedSchoolID] = struct{}{}
		}
	}
	if len(partners) == 0 {
		return false, nil
	}

	outgoing, err := s.admissions.ListBySchool(ctx, proposal.ProposingSchoolID)
	if err != nil {
		return false, appErrors.Storage(err, "failed to list admissions")
	}
	for _, admission := range outgoing {
		if to, ok := acceptedTransferTarget(admission); ok {
			if _, partner := partners[to]; partner {
				return true, nil
			}
		}
	}
	for partner := range partners {
		incoming, err := s.admissions.ListBySchool(ctx, partner)
		if err != nil {
			return false, appErrors.Storage(err, "failed to list admissions")
		}
		for _, admission := range incoming {
			if to, ok := acceptedTransferTarget(admission); ok && to == proposal.ProposingSchoolID {
				return true, nil
			}
		}
	}
	return false, nil
}

func acceptedTransferTarget(admission models.CompletedAdmission) (string, bool) {
	offer, ok := admission.State.(models.TransferOffered)
	if !ok || offer.Approval != models.TransferAcceptedByStudent {
		return "", false
	}
	return offer.ToSchoolID, true
}

// StartOrGetNegotiation returns the negotiation interestedSchoolID holds on the
// proposal, creating it on first contact. created reports whether a new thread
// was opened by this call.
func (s *TransferService) StartOrGetNegotiation(ctx context.Context, proposalID, interestedSchoolID string) (negotiation *models.TransferNegotiation, created bool, err error) {
	proposal, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, false, err
	}
	if interestedSchoolID == "" || interestedSchoolID == proposal.ProposingSchoolID {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "a school cannot negotiate on its own proposal")
	}

	existing, err := s.negotiations.FindByProposalAndSchool(ctx, proposal.ID, interestedSchoolID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, appErrors.Storage(err, "failed to load negotiation")
	}

	if proposal.Status != models.ProposalStatusOpen {
		return nil, false, appErrors.Clone(appErrors.ErrInvalidState, "proposal is closed to new negotiations")
	}
	school, err := s.identities.ResolveSchool(ctx, interestedSchoolID)
	if err != nil {
		return nil, false, appErrors.Storage(err, "failed to resolve school")
	}
	if school == nil {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "interested school not found")
	}

	negotiation = &models.TransferNegotiation{
		ID:                 uuid.NewString(),
		ProposalID:         proposal.ID,
		ProposingSchoolID:  proposal.ProposingSchoolID,
		InterestedSchoolID: interestedSchoolID,
		Messages:           []models.NegotiationMessage{},
	}
	if err := s.negotiations.Create(ctx, negotiation); err != nil {
		if !errors.Is(err, repository.ErrDuplicateNegotiation) {
			return nil, false, appErrors.Storage(err, "failed to create negotiation")
		}
		existing, err := s.negotiations.FindByProposalAndSchool(ctx, proposal.ID, interestedSchoolID)
		if err != nil {
			return nil, false, mapStoreError(err, "negotiation not found", "failed to load negotiation")
		}
		return existing, false, nil
	}

	s.logger.Info("negotiation started",
		zap.String("negotiation_id", negotiation.ID),
		zap.String("proposal_id", proposal.ID),
		zap.String("school_id", interestedSchoolID),
	)
	s.metrics.RecordTransition("negotiation_started")
	s.emitEvent(ctx, models.TransferEvent{
		Type:          models.EventNegotiationStarted,
		SchoolIDs:     []string{negotiation.ProposingSchoolID, negotiation.InterestedSchoolID},
		ProposalID:    proposal.ID,
		NegotiationID: negotiation.ID,
	})
	return negotiation, true, nil
}

// GetNegotiation returns a negotiation the school is party to.
func (s *TransferService) GetNegotiation(ctx context.Context, id, schoolID string) (*models.TransferNegotiation, error) {
	negotiation, err := s.negotiations.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "negotiation not found", "failed to load negotiation")
	}
	if !negotiation.HasParty(schoolID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "school is not party to this negotiation")
	}
	return negotiation, nil
}

// ListNegotiations returns every negotiation the school is party to.
func (s *TransferService) ListNegotiations(ctx context.Context, schoolID string) ([]models.TransferNegotiation, error) {
	negotiations, err := s.negotiations.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list negotiations")
	}
	return negotiations, nil
}

// AddNegotiationMessage appends a message from senderID and returns the
// negotiation as stored after the write.
func (s *TransferService) AddNegotiationMessage(ctx context.Context, negotiationID, senderID, content string) (*models.TransferNegotiation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message content is required")
	}
	if err := s.validator.Struct(dto.AddMessageRequest{Content: content}); err != nil {
		return nil, appErrors.Invalid(err, "message content is too long")
	}
	negotiation, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, mapStoreError(err, "negotiation not found", "failed to load negotiation")
	}
	if !negotiation.HasParty(senderID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sender is not party to this negotiation")
	}

	senderName := senderID
	school, err := s.identities.ResolveSchool(ctx, senderID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to resolve sender")
	}
	if school != nil && school.Name != "" {
		senderName = school.Name
	}

	message := &models.NegotiationMessage{
		ID:            uuid.NewString(),
		NegotiationID: negotiation.ID,
		SenderID:      senderID,
		SenderName:    senderName,
		Content:       content,
		Timestamp:     s.now(),
	}
	if err := s.negotiations.AppendMessage(ctx, message); err != nil {
		return nil, mapStoreError(err, "negotiation not found", "failed to append message")
	}

	updated, err := s.negotiations.GetByID(ctx, negotiation.ID)
	if err != nil {
		return nil, mapStoreError(err, "negotiation not found", "failed to reload negotiation")
	}

	s.metrics.ObserveNegotiationMessage()
	s.emitEvent(ctx, models.TransferEvent{
		Type:          models.EventNegotiationMessage,
		SchoolIDs:     []string{negotiation.Counterparty(senderID), senderID},
		ProposalID:    negotiation.ProposalID,
		NegotiationID: negotiation.ID,
	})
	return updated, nil
}

// ListAdmissions returns the school's admission records.
func (s *TransferService) ListAdmissions(ctx context.Context, schoolID string) ([]models.CompletedAdmission, error) {
	admissions, err := s.admissions.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list admissions")
	}
	return admissions, nil
}

// ReviewAdmission records the owning school's decision on an under-review record.
func (s *TransferService) ReviewAdmission(ctx context.Context, admissionID, schoolID string, decision models.AdmissionDecision) (*models.CompletedAdmission, error) {
	var next models.AdmissionState
	switch decision {
	case models.AdmissionDecisionApprove:
		next = models.Approved{}
	case models.AdmissionDecisionReject:
		next = models.Rejected{}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be approve or reject")
	}

	var reviewed *models.CompletedAdmission
	err := s.admissions.Atomic(ctx, func(w repository.AdmissionWriter) error {
		admission, err := loadOwnedAdmission(ctx, w, admissionID, schoolID)
		if err != nil {
			return err
		}
		if _, ok := admission.State.(models.UnderReview); !ok {
			return appErrors.Clone(appErrors.ErrInvalidState, "only records under review can be reviewed")
		}
		admission.State = next
		if err := w.Put(ctx, admission); err != nil {
			return err
		}
		reviewed = admission
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "admission not found", "failed to review admission")
	}

	s.logger.Info("admission reviewed",
		zap.String("admission_id", reviewed.ID),
		zap.String("school_id", schoolID),
		zap.String("status", string(reviewed.Status())),
	)
	s.metrics.RecordTransition("admission_" + string(decision))
	s.emitAudit(ctx, models.AuditActionAdmissionReview, "admission", reviewed.ID,
		map[string]string{"status": string(models.AdmissionStatusUnderReview)},
		map[string]string{"status": string(reviewed.Status())},
	)
	s.emitEvent(ctx, models.TransferEvent{
		Type:        models.EventAdmissionReviewed,
		SchoolIDs:   []string{schoolID},
		StudentID:   reviewed.ApplicantID,
		AdmissionID: reviewed.ID,
	})
	return reviewed, nil
}

// InitiateTransfer offers an under-review or approved record owned by
// fromSchoolID to toSchoolID, pending the student's approval.
func (s *TransferService) InitiateTransfer(ctx context.Context, admissionID, fromSchoolID, toSchoolID string) (*models.CompletedAdmission, error) {
	if toSchoolID == "" || toSchoolID == fromSchoolID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "destination school must differ from the current school")
	}
	destination, err := s.identities.ResolveSchool(ctx, toSchoolID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to resolve destination school")
	}
	if destination == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "destination school not found")
	}

	var offered *models.CompletedAdmission
	var previous models.AdmissionStatus
	err = s.admissions.Atomic(ctx, func(w repository.AdmissionWriter) error {
		admission, err := loadOwnedAdmission(ctx, w, admissionID, fromSchoolID)
		if err != nil {
			return err
		}
		switch admission.State.(type) {
		case models.UnderReview, models.Approved:
		default:
			return appErrors.Clone(appErrors.ErrInvalidState, "only records under review or approved can be transferred")
		}
		previous = admission.Status()
		admission.State = models.TransferOffered{
			ToSchoolID: destination.ID,
			Approval:   models.TransferPendingStudentApproval,
		}
		if err := w.Put(ctx, admission); err != nil {
			return err
		}
		offered = admission
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "admission not found", "failed to initiate transfer")
	}

	s.logger.Info("transfer offered",
		zap.String("admission_id", offered.ID),
		zap.String("from_school_id", fromSchoolID),
		zap.String("to_school_id", destination.ID),
	)
	s.metrics.RecordTransition("transfer_offered")
	s.emitAudit(ctx, models.AuditActionTransferOffer, "admission", offered.ID,
		map[string]string{"status": string(previous)},
		map[string]string{
			"status":             string(models.AdmissionStatusTransferred),
			"transferToSchoolId": destination.ID,
			"transferStatus":     string(models.TransferPendingStudentApproval),
		},
	)
	s.emitEvent(ctx, models.TransferEvent{
		Type:        models.EventTransferOffered,
		SchoolIDs:   []string{fromSchoolID, destination.ID},
		StudentID:   offered.ApplicantID,
		AdmissionID: offered.ID,
	})
	return offered, nil
}

// TransferOutcome reports the result of a student's answer to an offer.
type TransferOutcome struct {
	Source      *models.CompletedAdmission `json:"source"`
	Destination *models.CompletedAdmission `json:"destination,omitempty"`
}

// RespondToTransferOffer applies the student's answer to a pending offer on a
// record owned by fromSchoolID. Accepting copies the record to the destination
// school as a new under-review admission; rejecting ends the record.
func (s *TransferService) RespondToTransferOffer(ctx context.Context, admissionID, fromSchoolID string, response models.TransferApproval) (*TransferOutcome, error) {
	return s.respond(ctx, admissionID, fromSchoolID, "", response)
}

// RespondAsStudent is RespondToTransferOffer restricted to the record's applicant.
func (s *TransferService) RespondAsStudent(ctx context.Context, studentID, admissionID, fromSchoolID string, response models.TransferApproval) (*TransferOutcome, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student identity required")
	}
	return s.respond(ctx, admissionID, fromSchoolID, studentID, response)
}

func (s *TransferService) respond(ctx context.Context, admissionID, fromSchoolID, studentID string, response models.TransferApproval) (*TransferOutcome, error) {
	if !response.IsResponse() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "response must be accepted_by_student or rejected_by_student")
	}
	source, err := s.identities.ResolveSchool(ctx, fromSchoolID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to resolve source school")
	}

	outcome := &TransferOutcome{}
	var toSchoolID string
	err = s.admissions.Atomic(ctx, func(w repository.AdmissionWriter) error {
		admission, err := loadOwnedAdmission(ctx, w, admissionID, fromSchoolID)
		if err != nil {
			return err
		}
		if studentID != "" && admission.ApplicantID != studentID {
			return appErrors.Clone(appErrors.ErrNotFound, "admission not found")
		}
		offer, ok := admission.PendingOffer()
		if !ok {
			return appErrors.Clone(appErrors.ErrInvalidState, "no transfer offer is awaiting a response")
		}
		toSchoolID = offer.ToSchoolID

		if response == models.TransferRejectedByStudent {
			admission.State = models.Rejected{ByStudent: true, ToSchoolID: offer.ToSchoolID}
			if err := w.Put(ctx, admission); err != nil {
				return err
			}
			outcome.Source = admission
			return nil
		}

		admission.State = models.TransferOffered{ToSchoolID: offer.ToSchoolID, Approval: models.TransferAcceptedByStudent}
		if err := w.Put(ctx, admission); err != nil {
			return err
		}
		copied := copyForDestination(admission, offer.ToSchoolID, source)
		if err := w.Put(ctx, copied); err != nil {
			return err
		}
		outcome.Source = admission
		outcome.Destination = copied
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err, "admission not found", "failed to record transfer response")
	}

	eventType := models.EventTransferRejected
	transition := "transfer_rejected"
	if response == models.TransferAcceptedByStudent {
		eventType = models.EventTransferAccepted
		transition = "transfer_accepted"
	}
	fields := []zap.Field{
		zap.String("admission_id", outcome.Source.ID),
		zap.String("from_school_id", fromSchoolID),
		zap.String("to_school_id", toSchoolID),
		zap.String("response", string(response)),
	}
	if outcome.Destination != nil {
		fields = append(fields, zap.String("new_admission_id", outcome.Destination.ID))
	}
	s.logger.Info("transfer offer answered", fields...)
	s.metrics.RecordTransition(transition)
	s.emitAudit(ctx, models.AuditActionTransferResponse, "admission", outcome.Source.ID,
		map[string]string{"transferStatus": string(models.TransferPendingStudentApproval)},
		outcome,
	)
	s.emitEvent(ctx, models.TransferEvent{
		Type:        eventType,
		SchoolIDs:   []string{fromSchoolID, toSchoolID},
		StudentID:   outcome.Source.ApplicantID,
		AdmissionID: outcome.Source.ID,
	})
	return outcome, nil
}

// FindPendingTransfer returns the offer awaiting studentID's answer for
// toSchoolID, or nil when there is none. Should several exist, the oldest wins.
func (s *TransferService) FindPendingTransfer(ctx context.Context, studentID, toSchoolID string) (*models.CompletedAdmission, error) {
	matches, err := s.admissions.FindPendingTransfers(ctx, studentID, toSchoolID, 2)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to look up pending transfer")
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		s.logger.Warn("multiple pending transfers for student",
			zap.String("student_id", studentID),
			zap.String("to_school_id", toSchoolID),
			zap.String("admission_id", matches[0].ID),
		)
	}
	return &matches[0], nil
}

func copyForDestination(source *models.CompletedAdmission, toSchoolID string, sourceSchool *models.SchoolIdentity) *models.CompletedAdmission {
	data := source.Data
	data.Results = append([]models.SubjectResult(nil), source.Data.Results...)
	origin := strings.TrimSpace(source.Data.SchoolName)
	if origin == "" && sourceSchool != nil {
		origin = sourceSchool.Name
	}
	data.SchoolName = TransferredAnnotationPrefix + origin

	var combination *models.ALevelCombination
	if source.Combination != nil {
		c := *source.Combination
		combination = &c
	}
	return &models.CompletedAdmission{
		ID:          uuid.NewString(),
		SchoolID:    toSchoolID,
		ApplicantID: source.ApplicantID,
		Data:        data,
		TargetClass: source.TargetClass,
		Combination: combination,
		State:       models.UnderReview{},
	}
}

func loadOwnedAdmission(ctx context.Context, w repository.AdmissionWriter, admissionID, schoolID string) (*models.CompletedAdmission, error) {
	admission, err := w.GetForUpdate(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if admission.SchoolID != schoolID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "admission not found")
	}
	return admission, nil
}

// mapStoreError passes domain errors through, maps missing rows to NotFound
// and wraps everything else as a storage failure.
func mapStoreError(err error, notFound, failure string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	default:
		return appErrors.Storage(err, failure)
	}
}

func (s *TransferService) emitAudit(ctx context.Context, action, resource, resourceID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     actorFrom(ctx),
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "transfer-service",
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *TransferService) emitEvent(ctx context.Context, event models.TransferEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = s.now()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish transfer event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}
