package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/school-transfer-api/internal/models"
)

const (
	userColumns    = `id, email, password_hash, full_name, role, school_id, student_id, active, last_login, created_at, updated_at`
	sessionColumns = `id, user_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent`
)

// UserRepository reads accounts and manages their refresh sessions. Lookups
// that find nothing return sql.ErrNoRows unwrapped.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail matches the address case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepository) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// UpdateLastLogin stamps a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// CreateRefreshSession stores a newly issued session.
func (r *UserRepository) CreateRefreshSession(ctx context.Context, session *models.RefreshSession) error {
	const query = `INSERT INTO refresh_sessions (` + sessionColumns + `)
	VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create refresh session: %w", err)
	}
	return nil
}

// FindRefreshSession looks a session up by the digest of its token.
func (r *UserRepository) FindRefreshSession(ctx context.Context, tokenHash string) (*models.RefreshSession, error) {
	var session models.RefreshSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find refresh session: %w", err)
	}
	return &session, nil
}

// RevokeRefreshSession marks one session spent. It returns sql.ErrNoRows when
// the session was already revoked, so only one caller can spend a token.
func (r *UserRepository) RevokeRefreshSession(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_sessions SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND NOT revoked`
	res, err := r.db.ExecContext(ctx, query, id, revokedAt)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RevokeUserSessions ends every live session of a user and reports how many
// were open.
func (r *UserRepository) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	const query = `UPDATE refresh_sessions SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND NOT revoked`
	res, err := r.db.ExecContext(ctx, query, userID, revokedAt)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return n, nil
}
