package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/school-transfer-api/internal/models"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

const tokenTypeBearer = "Bearer"

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateRefreshSession(ctx context.Context, session *models.RefreshSession) error
	FindRefreshSession(ctx context.Context, tokenHash string) (*models.RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int64, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Audience           []string
}

// AuthService issues and validates tokens for school admins and students.
// Refresh tokens rotate on every use; presenting a spent one ends every
// session of its owner.
type AuthService struct {
	repo      authUserRepository
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, audit auditLogger, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		repo:      repo,
		audit:     audit,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login checks credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.ErrInvalidCredentials
	case err != nil:
		return nil, appErrors.Storage(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	pair, err := s.openSession(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, pair.IssuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.recordAudit(ctx, user.ID, models.AuditActionLogin, req.IP, req.UserAgent)

	return &models.LoginResponse{TokenPair: *pair, User: user.Info()}, nil
}

// RefreshToken spends a refresh token and issues a new pair.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid refresh payload")
	}

	session, err := s.findSession(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token not recognised")
	}

	now := s.now()
	if session.Revoked {
		s.revokeEverything(ctx, session.UserID, req.IP, req.UserAgent)
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token already used")
	}
	if !session.Usable(now) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token expired")
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
	case err != nil:
		return nil, appErrors.Storage(err, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	if err := s.repo.RevokeRefreshSession(ctx, session.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.revokeEverything(ctx, session.UserID, req.IP, req.UserAgent)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token already used")
		}
		return nil, appErrors.Storage(err, "failed to rotate refresh token")
	}
	pair, err := s.openSession(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, user.ID, models.AuditActionTokenRefresh, req.IP, req.UserAgent)
	return pair, nil
}

// Logout revokes the caller's refresh token. Unknown or already revoked
// tokens succeed so clients can retry.
func (s *AuthService) Logout(ctx context.Context, userID string, req models.LogoutRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, "invalid logout payload")
	}

	session, err := s.findSession(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	if session == nil || session.Revoked {
		return nil
	}
	if session.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "refresh token belongs to another account")
	}
	if err := s.repo.RevokeRefreshSession(ctx, session.ID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Storage(err, "failed to revoke refresh token")
	}
	s.recordAudit(ctx, userID, models.AuditActionLogout, req.IP, req.UserAgent)
	return nil
}

// ValidateToken parses an HS256 access token and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	return claims, nil
}

func (s *AuthService) findSession(ctx context.Context, raw string) (*models.RefreshSession, error) {
	session, err := s.repo.FindRefreshSession(ctx, hashRefreshToken(raw))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, appErrors.Storage(err, "failed to fetch refresh token")
	}
	return session, nil
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, ip, userAgent string) (*models.TokenPair, error) {
	issuedAt := s.now()
	access, err := s.signAccessToken(user, issuedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}

	raw, err := newRefreshToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	session := &models.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(raw),
		ExpiresAt: issuedAt.Add(s.config.RefreshTokenExpiry),
		CreatedAt: issuedAt,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateRefreshSession(ctx, session); err != nil {
		return nil, appErrors.Storage(err, "failed to persist refresh token")
	}

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
	}, nil
}

func (s *AuthService) revokeEverything(ctx context.Context, userID, ip, userAgent string) {
	n, err := s.repo.RevokeUserSessions(ctx, userID, s.now())
	if err != nil {
		s.logger.Error("failed to revoke sessions after token reuse", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.logger.Warn("refresh token reused, sessions revoked", zap.String("user_id", userID), zap.Int64("sessions", n))
	s.recordAudit(ctx, userID, models.AuditActionTokenReuse, ip, userAgent)
}

func (s *AuthService) recordAudit(ctx context.Context, userID, action, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record auth audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) signAccessToken(user *models.User, issuedAt time.Time) (string, error) {
	info := user.Info()
	claims := &models.JWTClaims{
		UserID:    info.ID,
		Role:      info.Role,
		Email:     info.Email,
		FullName:  info.FullName,
		SchoolID:  info.SchoolID,
		StudentID: info.StudentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
