package lock

import (
	"context"
	"errors"
	"time"

	"github.com/anuaedu/cobranca/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when a lease could not be obtained within
// its own lease window. Callers on the synchronous path surface it;
// sweep paths count it and move on.
var ErrNotAcquired = errors.New("lock_not_acquired")

// Lease is a held advisory lock. Release is safe to call once, including
// from a deferred path after an error.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out short leased locks keyed by a logical resource id.
type Locker interface {
	// Acquire blocks until the lock is obtained or the lease window has
	// elapsed, in which case it returns ErrNotAcquired.
	Acquire(ctx context.Context, key string, lease time.Duration) (Lease, error)
}

// Module provides a Locker: redis-backed when REDIS_ADDR is configured,
// in-process otherwise (single-node deployments and tests).
var Module = fx.Provide(New)

func New(cfg config.Config, log *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		log.Warn("redis not configured, using in-process locks")
		return NewMemoryLocker()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisLocker(client)
}
