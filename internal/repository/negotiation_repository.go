package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/school-transfer-api/internal/models"
)

// ErrDuplicateNegotiation is returned when a negotiation already exists for
// the proposal and interested school.
var ErrDuplicateNegotiation = errors.New("negotiation already exists")

const (
	negotiationColumns = `id, proposal_id, proposing_school_id, interested_school_id, created_at`
	messageColumns     = `id, negotiation_id, seq, sender_id, sender_name, content, created_at`

	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// NegotiationRepository persists negotiation threads and their messages.
type NegotiationRepository struct {
	db *sqlx.DB
}

// NewNegotiationRepository constructs the repository.
func NewNegotiationRepository(db *sqlx.DB) *NegotiationRepository {
	return &NegotiationRepository{db: db}
}

// Create inserts a negotiation. A concurrent insert for the same proposal and
// interested school surfaces as ErrDuplicateNegotiation.
func (r *NegotiationRepository) Create(ctx context.Context, negotiation *models.TransferNegotiation) error {
	if negotiation.ID == "" {
		negotiation.ID = uuid.NewString()
	}
	if negotiation.CreatedAt.IsZero() {
		negotiation.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO transfer_negotiations (` + negotiationColumns + `)
	VALUES (:id, :proposal_id, :proposing_school_id, :interested_school_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, negotiation); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateNegotiation
		}
		return fmt.Errorf("create negotiation: %w", err)
	}
	if negotiation.Messages == nil {
		negotiation.Messages = []models.NegotiationMessage{}
	}
	return nil
}

// GetByID fetches a negotiation together with its messages.
func (r *NegotiationRepository) GetByID(ctx context.Context, id string) (*models.TransferNegotiation, error) {
	const query = `SELECT ` + negotiationColumns + ` FROM transfer_negotiations WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// FindByProposalAndSchool fetches the negotiation an interested school holds on a proposal.
func (r *NegotiationRepository) FindByProposalAndSchool(ctx context.Context, proposalID, interestedSchoolID string) (*models.TransferNegotiation, error) {
	const query = `SELECT ` + negotiationColumns + ` FROM transfer_negotiations WHERE proposal_id = $1 AND interested_school_id = $2`
	return r.getOne(ctx, query, proposalID, interestedSchoolID)
}

func (r *NegotiationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.TransferNegotiation, error) {
	var negotiation models.TransferNegotiation
	if err := r.db.GetContext(ctx, &negotiation, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get negotiation: %w", err)
	}
	messages, err := r.ListMessages(ctx, negotiation.ID)
	if err != nil {
		return nil, err
	}
	negotiation.Messages = messages
	return &negotiation, nil
}

// ListBySchool returns every negotiation the school is party to, newest first,
// with messages attached.
func (r *NegotiationRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.TransferNegotiation, error) {
	const query = `SELECT ` + negotiationColumns + ` FROM transfer_negotiations
	WHERE proposing_school_id = $1 OR interested_school_id = $1
	ORDER BY created_at DESC`
	negotiations := make([]models.TransferNegotiation, 0)
	if err := r.db.SelectContext(ctx, &negotiations, query, schoolID); err != nil {
		return nil, fmt.Errorf("list negotiations: %w", err)
	}
	if len(negotiations) == 0 {
		return negotiations, nil
	}

	ids := make([]string, len(negotiations))
	index := make(map[string]int, len(negotiations))
	for i := range negotiations {
		ids[i] = negotiations[i].ID
		index[negotiations[i].ID] = i
		negotiations[i].Messages = []models.NegotiationMessage{}
	}

	const messagesQuery = `SELECT ` + messageColumns + ` FROM negotiation_messages
	WHERE negotiation_id = ANY($1) ORDER BY seq ASC`
	var messages []models.NegotiationMessage
	if err := r.db.SelectContext(ctx, &messages, messagesQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list negotiation messages: %w", err)
	}
	for _, message := range messages {
		i := index[message.NegotiationID]
		negotiations[i].Messages = append(negotiations[i].Messages, message)
	}
	return negotiations, nil
}

// ListMessages returns a thread's messages in insertion order.
func (r *NegotiationRepository) ListMessages(ctx context.Context, negotiationID string) ([]models.NegotiationMessage, error) {
	const query = `SELECT ` + messageColumns + ` FROM negotiation_messages WHERE negotiation_id = $1 ORDER BY seq ASC`
	messages := make([]models.NegotiationMessage, 0)
	if err := r.db.SelectContext(ctx, &messages, query, negotiationID); err != nil {
		return nil, fmt.Errorf("list negotiation messages: %w", err)
	}
	return messages, nil
}

// AppendMessage inserts a message; the database assigns its sequence number.
func (r *NegotiationRepository) AppendMessage(ctx context.Context, message *models.NegotiationMessage) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	const query = `INSERT INTO negotiation_messages (id, negotiation_id, sender_id, sender_name, content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`
	row := r.db.QueryRowxContext(ctx, query,
		message.ID,
		message.NegotiationID,
		message.SenderID,
		message.SenderName,
		message.Content,
		message.Timestamp,
	)
	if err := row.Scan(&message.Seq); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return sql.ErrNoRows
		}
		return fmt.Errorf("append negotiation message: %w", err)
	}
	return nil
}
