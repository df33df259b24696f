package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/observability"
)

const keyPrefix = "ratelimit"

// Redis is a fixed-window limiter sharing quota across replicas. Windows
// are anchored at epoch minute boundaries so every replica agrees on the
// window without coordination.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewRedis creates a Redis-backed limiter admitting limit requests per
// window.
func NewRedis(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *Redis {
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Admit checks and consumes quota for clientKey. INCR is atomic, so the
// check never double-counts. A Redis outage fails open: limiting degrades
// rather than taking the API down with it.
func (r *Redis) Admit(ctx context.Context, clientKey string, now time.Time) domain.Decision {
	windowStart := now.Truncate(r.window)
	key := fmt.Sprintf("%s:%s:%d", keyPrefix, clientKey, windowStart.Unix())

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("rate limit backend unavailable, admitting request",
			observability.Error(err))
		return domain.Decision{Allowed: true, Remaining: r.limit}
	}

	count := int(incr.Val())
	if count > r.limit {
		return domain.Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: windowStart.Add(r.window).Sub(now),
		}
	}

	return domain.Decision{
		Allowed:   true,
		Remaining: r.limit - count,
	}
}
