package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// Source is the lookup the cache sits in front of.
type Source interface {
	ResolveScope(ctx context.Context, userID string) (domain.UserScope, error)
	CandidatesFor(ctx context.Context, role domain.ApproverRole, scope domain.Scope) ([]string, error)
}

// CachedDirectory memoizes candidate lists in Redis for a short TTL. Redis failures
// fall through to the source so approvals keep working without a cache.
type CachedDirectory struct {
	inner  Source
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedDirectory wraps inner. A nil client or non-positive ttl disables caching.
func NewCachedDirectory(inner Source, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedDirectory{inner: inner, client: client, ttl: ttl, logger: logger}
}

// ResolveScope is never cached; scope changes must apply to the next request.
func (c *CachedDirectory) ResolveScope(ctx context.Context, userID string) (domain.UserScope, error) {
	return c.inner.ResolveScope(ctx, userID)
}

// CandidatesFor serves from Redis when possible.
func (c *CachedDirectory) CandidatesFor(ctx context.Context, role domain.ApproverRole, scope domain.Scope) ([]string, error) {
	if c.client == nil || c.ttl <= 0 {
		return c.inner.CandidatesFor(ctx, role, scope)
	}
	key := candidatesKey(role, scope)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ids []string
		if jsonErr := json.Unmarshal(raw, &ids); jsonErr == nil {
			return ids, nil
		}
		c.logger.Warn("discarding malformed candidate cache entry", zap.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("candidate cache read failed", zap.String("key", key), zap.Error(err))
	}

	ids, err := c.inner.CandidatesFor(ctx, role, scope)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(ids); err == nil {
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("candidate cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return ids, nil
}

func candidatesKey(role domain.ApproverRole, scope domain.Scope) string {
	return fmt.Sprintf("directory:candidates:%s:%s:%s", role, scope.DepartmentID, scope.SectionID)
}
