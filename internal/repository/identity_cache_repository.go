package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

// IdentityCacheRepository keeps resolved school and student identities in
// Redis as JSON under a common key prefix.
type IdentityCacheRepository struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

// NewIdentityCacheRepository wraps a Redis client. prefix namespaces keys when
// the Redis database is shared.
func NewIdentityCacheRepository(client redis.Cmdable, prefix string, logger *zap.Logger) *IdentityCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityCacheRepository{client: client, prefix: prefix, logger: logger}
}

// Get decodes the entry at key into dest. Entries that no longer decode are
// evicted and reported as misses.
func (r *IdentityCacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	fullKey := r.prefix + key
	raw, err := r.client.Get(ctx, fullKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return appErrors.ErrCacheMiss
	case err != nil:
		return fmt.Errorf("identity cache get %s: %w", fullKey, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		r.logger.Warn("evicting undecodable identity", zap.String("key", fullKey), zap.Error(err))
		_ = r.client.Del(ctx, fullKey).Err()
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set stores value at key for ttl.
func (r *IdentityCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode identity %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("identity cache set %s: %w", r.prefix+key, err)
	}
	return nil
}

// Ping backs the readiness probe.
func (r *IdentityCacheRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
