package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// LogoutRequest ends the session identified by a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// TokenPair is issued on login and on every refresh. The refresh token is
// single use.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

type LoginResponse struct {
	TokenPair
	User UserInfo `json:"user"`
}

// RefreshSession is a persisted refresh token. Only a digest of the token
// is stored.
type RefreshSession struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	Revoked   bool       `db:"revoked"`
	RevokedAt *time.Time `db:"revoked_at"`
	IPAddress string     `db:"ip_address"`
	UserAgent string     `db:"user_agent"`
}

// Usable reports whether the session can still be exchanged at now.
func (s *RefreshSession) Usable(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	Role      UserRole `json:"role"`
	SchoolID  string   `json:"school_id,omitempty"`
	StudentID string   `json:"student_id,omitempty"`
}

// JWTClaims are the access token claims. SchoolID and StudentID identify the
// tenant the caller acts for; handlers never take them from request bodies.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	SchoolID  string   `json:"school_id,omitempty"`
	StudentID string   `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// Info projects the claims onto the public user shape.
func (c *JWTClaims) Info() UserInfo {
	return UserInfo{
		ID:        c.UserID,
		Email:     c.Email,
		FullName:  c.FullName,
		Role:      c.Role,
		SchoolID:  c.SchoolID,
		StudentID: c.StudentID,
	}
}
