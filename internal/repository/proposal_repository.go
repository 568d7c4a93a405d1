package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-transfer-api/internal/models"
)

const proposalColumns = `id, proposing_school_id, number_of_students, gender, grade, description, status, created_at, updated_at`

// ProposalRepository persists transfer proposals.
type ProposalRepository struct {
	db *sqlx.DB
}

// NewProposalRepository constructs the repository.
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// Create inserts a new proposal row.
func (r *ProposalRepository) Create(ctx context.Context, proposal *models.TransferProposal) error {
	if proposal.ID == "" {
		proposal.ID = uuid.NewString()
	}
	if proposal.Status == "" {
		proposal.Status = models.ProposalStatusOpen
	}
	now := time.Now().UTC()
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = now
	}
	proposal.UpdatedAt = proposal.CreatedAt
	const query = `INSERT INTO transfer_proposals (` + proposalColumns + `)
	VALUES (:id, :proposing_school_id, :number_of_students, :gender, :grade, :description, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, proposal); err != nil {
		return fmt.Errorf("create transfer proposal: %w", err)
	}
	return nil
}

// GetByID fetches a proposal by identifier.
func (r *ProposalRepository) GetByID(ctx context.Context, id string) (*models.TransferProposal, error) {
	const query = `SELECT ` + proposalColumns + ` FROM transfer_proposals WHERE id = $1`
	var proposal models.TransferProposal
	if err := r.db.GetContext(ctx, &proposal, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get transfer proposal: %w", err)
	}
	return &proposal, nil
}

// List returns proposals matching the filter, newest first.
func (r *ProposalRepository) List(ctx context.Context, filter models.ProposalFilter) ([]models.TransferProposal, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + proposalColumns + ` FROM transfer_proposals`)

	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProposingSchool != "" {
		args = append(args, filter.ProposingSchool)
		conditions = append(conditions, fmt.Sprintf("proposing_school_id = $%d", len(args)))
	}
	if filter.ExcludingSchool != "" {
		args = append(args, filter.ExcludingSchool)
		conditions = append(conditions, fmt.Sprintf("proposing_school_id <> $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	proposals := make([]models.TransferProposal, 0)
	if err := r.db.SelectContext(ctx, &proposals, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list transfer proposals: %w", err)
	}
	return proposals, nil
}

// UpdateStatus moves a proposal from one status to another. It returns
// sql.ErrNoRows when the proposal is not currently in the expected status.
func (r *ProposalRepository) UpdateStatus(ctx context.Context, id string, from, to models.ProposalStatus) error {
	const query = `UPDATE transfer_proposals SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update transfer proposal status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transfer proposal update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
