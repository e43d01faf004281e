// Package lock provides keyed mutual exclusion for the production engine:
// an in-process implementation for single-node deployments and a Redis one
// for deployments running several API replicas against one database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/production-engine/logger"
)

// ErrNotObtained is returned when the lock stayed busy for the whole retry budget.
var ErrNotObtained = errors.New("lock not obtained")

// =============================================================================
// LOCAL - keyed in-process mutex
// =============================================================================

// Local hands out one mutex per key. Entries are reference counted and
// dropped once nobody holds or waits for them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		// The goroutine still acquires eventually; release on its behalf.
		go func() {
			<-acquired
			l.release(key, e)
		}()
		return nil, ctx.Err()
	}
}

func (l *Local) release(key string, e *entry) {
	e.mu.Unlock()
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// held reports the number of keys currently tracked.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// =============================================================================
// REDIS - distributed lock via bsm/redislock
// =============================================================================

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	Prefix  string
	TTL     time.Duration
	Retry   time.Duration
	Retries int
}

// Redis obtains locks through a Redis SET NX with expiry.
type Redis struct {
	client *redislock.Client
	cfg    RedisConfig
	log    *zap.Logger
}

func NewRedis(rdb redis.UniversalClient, cfg RedisConfig, log *zap.Logger) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "production:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 100 * time.Millisecond
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 50
	}
	return &Redis{client: redislock.New(rdb), cfg: cfg, log: logger.OrNop(log)}
}

// Lock obtains key, retrying linearly. The returned func releases it.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	strategy := redislock.LimitRetry(redislock.LinearBackoff(r.cfg.Retry), r.cfg.Retries)
	l, err := r.client.Obtain(ctx, r.cfg.Prefix+key, r.cfg.TTL, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// Release with a fresh context: the caller's may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.Warn("release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
