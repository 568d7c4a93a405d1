package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/pkg/database"
)

const admissionColumns = `id, school_id, applicant_id, data, target_class, combination_group, combination_choice,
       status, transfer_to_school_id, transfer_status, created_at, updated_at`

// AdmissionWriter is the view of the admission store available inside a transaction.
type AdmissionWriter interface {
	GetForUpdate(ctx context.Context, id string) (*models.CompletedAdmission, error)
	Put(ctx context.Context, admission *models.CompletedAdmission) error
}

type admissionRow struct {
	ID                 string                `db:"id"`
	SchoolID           string                `db:"school_id"`
	ApplicantID        string                `db:"applicant_id"`
	Data               models.AcademicRecord `db:"data"`
	TargetClass        string                `db:"target_class"`
	CombinationGroup   sql.NullString        `db:"combination_group"`
	CombinationChoice  sql.NullString        `db:"combination_choice"`
	Status             string                `db:"status"`
	TransferToSchoolID sql.NullString        `db:"transfer_to_school_id"`
	TransferStatus     sql.NullString        `db:"transfer_status"`
	CreatedAt          time.Time             `db:"created_at"`
	UpdatedAt          time.Time             `db:"updated_at"`
}

func (row admissionRow) toModel() (*models.CompletedAdmission, error) {
	state, err := models.DecodeAdmissionState(
		models.AdmissionStatus(row.Status),
		row.TransferToSchoolID.String,
		models.TransferApproval(row.TransferStatus.String),
	)
	if err != nil {
		return nil, fmt.Errorf("decode admission %s: %w", row.ID, err)
	}
	admission := &models.CompletedAdmission{
		ID:          row.ID,
		SchoolID:    row.SchoolID,
		ApplicantID: row.ApplicantID,
		Data:        row.Data,
		TargetClass: row.TargetClass,
		State:       state,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.CombinationGroup.Valid {
		admission.Combination = &models.ALevelCombination{
			Group:  row.CombinationGroup.String,
			Choice: row.CombinationChoice.String,
		}
	}
	return admission, nil
}

func fromModel(admission *models.CompletedAdmission) admissionRow {
	status, to, approval := models.EncodeAdmissionState(admission.State)
	row := admissionRow{
		ID:                 admission.ID,
		SchoolID:           admission.SchoolID,
		ApplicantID:        admission.ApplicantID,
		Data:               admission.Data,
		TargetClass:        admission.TargetClass,
		Status:             string(status),
		TransferToSchoolID: nullString(to),
		TransferStatus:     nullString(string(approval)),
		CreatedAt:          admission.CreatedAt,
		UpdatedAt:          admission.UpdatedAt,
	}
	if admission.Combination != nil {
		row.CombinationGroup = nullString(admission.Combination.Group)
		row.CombinationChoice = nullString(admission.Combination.Choice)
	}
	return row
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

// AdmissionRepository persists completed admission records.
type AdmissionRepository struct {
	db *sqlx.DB
}

// NewAdmissionRepository constructs the repository.
func NewAdmissionRepository(db *sqlx.DB) *AdmissionRepository {
	return &AdmissionRepository{db: db}
}

// Get fetches an admission by identifier.
func (r *AdmissionRepository) Get(ctx context.Context, id string) (*models.CompletedAdmission, error) {
	return getAdmission(ctx, r.db, `SELECT `+admissionColumns+` FROM admissions WHERE id = $1`, id)
}

// ListBySchool returns a school's admissions, newest first.
func (r *AdmissionRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.CompletedAdmission, error) {
	const query = `SELECT ` + admissionColumns + ` FROM admissions WHERE school_id = $1 ORDER BY created_at DESC`
	return selectAdmissions(ctx, r.db, query, schoolID)
}

// Put inserts or replaces an admission record.
func (r *AdmissionRepository) Put(ctx context.Context, admission *models.CompletedAdmission) error {
	return putAdmission(ctx, r.db, admission)
}

// FindPendingTransfers returns up to limit admissions of the student offered to
// the destination school and awaiting the student's answer, oldest first.
func (r *AdmissionRepository) FindPendingTransfers(ctx context.Context, studentID, toSchoolID string, limit int) ([]models.CompletedAdmission, error) {
	if limit <= 0 {
		limit = 1
	}
	const query = `SELECT ` + admissionColumns + ` FROM admissions
	WHERE applicant_id = $1 AND transfer_to_school_id = $2 AND status = $3 AND transfer_status = $4
	ORDER BY created_at ASC LIMIT $5`
	return selectAdmissions(ctx, r.db, query,
		studentID,
		toSchoolID,
		models.AdmissionStatusTransferred,
		models.TransferPendingStudentApproval,
		limit,
	)
}

// Atomic runs fn inside one transaction. Rows read through GetForUpdate stay
// locked until the transaction ends.
func (r *AdmissionRepository) Atomic(ctx context.Context, fn func(AdmissionWriter) error) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&admissionTx{tx: tx})
	})
}

type admissionTx struct {
	tx *sqlx.Tx
}

func (t *admissionTx) GetForUpdate(ctx context.Context, id string) (*models.CompletedAdmission, error) {
	return getAdmission(ctx, t.tx, `SELECT `+admissionColumns+` FROM admissions WHERE id = $1 FOR UPDATE`, id)
}

func (t *admissionTx) Put(ctx context.Context, admission *models.CompletedAdmission) error {
	return putAdmission(ctx, t.tx, admission)
}

func getAdmission(ctx context.Context, q sqlx.QueryerContext, query string, id string) (*models.CompletedAdmission, error) {
	var row admissionRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get admission: %w", err)
	}
	return row.toModel()
}

func selectAdmissions(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) ([]models.CompletedAdmission, error) {
	var rows []admissionRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list admissions: %w", err)
	}
	admissions := make([]models.CompletedAdmission, 0, len(rows))
	for _, row := range rows {
		admission, err := row.toModel()
		if err != nil {
			return nil, err
		}
		admissions = append(admissions, *admission)
	}
	return admissions, nil
}

func putAdmission(ctx context.Context, e sqlx.ExtContext, admission *models.CompletedAdmission) error {
	if admission.ID == "" {
		admission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if admission.CreatedAt.IsZero() {
		admission.CreatedAt = now
	}
	admission.UpdatedAt = now

	const query = `INSERT INTO admissions (` + admissionColumns + `)
	VALUES (:id, :school_id, :applicant_id, :data, :target_class, :combination_group, :combination_choice,
	        :status, :transfer_to_school_id, :transfer_status, :created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET
	    data = EXCLUDED.data,
	    target_class = EXCLUDED.target_class,
	    combination_group = EXCLUDED.combination_group,
	    combination_choice = EXCLUDED.combination_choice,
	    status = EXCLUDED.status,
	    transfer_to_school_id = EXCLUDED.transfer_to_school_id,
	    transfer_status = EXCLUDED.transfer_status,
	    updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, e, query, fromModel(admission)); err != nil {
		return fmt.Errorf("put admission: %w", err)
	}
	return nil
}
