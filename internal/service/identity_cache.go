package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-transfer-api/internal/models"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

// IdentityLookup resolves schools and students. Unknown identifiers resolve to
// nil without an error.
type IdentityLookup interface {
	ResolveSchool(ctx context.Context, id string) (*models.SchoolIdentity, error)
	ResolveStudent(ctx context.Context, id string) (*models.StudentIdentity, error)
}

// IdentityStore is a JSON key/value store with expiry. Get returns
// appErrors.ErrCacheMiss for absent keys.
type IdentityStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const (
	identityKindSchool  = "school"
	identityKindStudent = "student"

	defaultIdentityTTL = 10 * time.Minute
)

// CachedIdentityLookup serves identities from the store before the directory.
// Absent identities are never stored so a newly provisioned school resolves
// immediately. Store failures degrade to the directory.
type CachedIdentityLookup struct {
	next    IdentityLookup
	store   IdentityStore
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewCachedIdentityLookup decorates next. A nil store passes through.
func NewCachedIdentityLookup(next IdentityLookup, store IdentityStore, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *CachedIdentityLookup {
	if ttl <= 0 {
		ttl = defaultIdentityTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedIdentityLookup{next: next, store: store, ttl: ttl, metrics: metrics, logger: logger}
}

func identityKey(kind, id string) string { return "identity:" + kind + ":" + id }

// ResolveSchool implements IdentityLookup.
func (l *CachedIdentityLookup) ResolveSchool(ctx context.Context, id string) (*models.SchoolIdentity, error) {
	var cached models.SchoolIdentity
	if l.load(ctx, identityKindSchool, id, &cached) {
		return &cached, nil
	}
	school, err := l.next.ResolveSchool(ctx, id)
	if err != nil || school == nil {
		return school, err
	}
	l.save(ctx, identityKindSchool, id, school)
	return school, nil
}

// ResolveStudent implements IdentityLookup.
func (l *CachedIdentityLookup) ResolveStudent(ctx context.Context, id string) (*models.StudentIdentity, error) {
	var cached models.StudentIdentity
	if l.load(ctx, identityKindStudent, id, &cached) {
		return &cached, nil
	}
	student, err := l.next.ResolveStudent(ctx, id)
	if err != nil || student == nil {
		return student, err
	}
	l.save(ctx, identityKindStudent, id, student)
	return student, nil
}

func (l *CachedIdentityLookup) load(ctx context.Context, kind, id string, dest interface{}) bool {
	if l.store == nil {
		return false
	}
	start := time.Now()
	err := l.store.Get(ctx, identityKey(kind, id), dest)
	l.metrics.RecordIdentityLookup(kind, err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		l.logger.Warn("identity cache read failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	}
	return err == nil
}

func (l *CachedIdentityLookup) save(ctx context.Context, kind, id string, value interface{}) {
	if l.store == nil {
		return
	}
	start := time.Now()
	err := l.store.Set(ctx, identityKey(kind, id), value, l.ttl)
	l.metrics.ObserveIdentityWrite(time.Since(start))
	if err != nil {
		l.logger.Warn("identity cache write failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	}
}
