package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-transfer-api/internal/models"
)

// IdentityRepository resolves schools and students from the tenant directory.
// Unknown identifiers resolve to nil without an error.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository constructs the repository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// ResolveSchool fetches an active school.
func (r *IdentityRepository) ResolveSchool(ctx context.Context, id string) (*models.SchoolIdentity, error) {
	const query = `SELECT id, name, active FROM schools WHERE id = $1 AND active = TRUE LIMIT 1`
	var school models.SchoolIdentity
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve school: %w", err)
	}
	return &school, nil
}

// ResolveStudent fetches a student.
func (r *IdentityRepository) ResolveStudent(ctx context.Context, id string) (*models.StudentIdentity, error) {
	const query = `SELECT id, full_name, school_id FROM students WHERE id = $1 LIMIT 1`
	var student models.StudentIdentity
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve student: %w", err)
	}
	return &student, nil
}
