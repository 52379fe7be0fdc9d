// Package runlock guards the pipeline against two runs rebuilding the same
// tables at once.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

// RunKey is the lock key shared by every pipeline process.
const RunKey = "lock:curation-etl-run"

// ErrRunInProgress is returned when another process holds the run lock.
var ErrRunInProgress = errors.New("another pipeline run holds the run lock")

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker obtains the cross-process run lock.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Noop is used when no Redis is configured; it always succeeds.
type Noop struct{}

func (Noop) Obtain(context.Context, string, time.Duration) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// Redis obtains locks through redislock. The lock is not retried: a second
// run should fail fast rather than queue behind the first.
type Redis struct {
	client *redis.Client
	locks  *redislock.Client
}

// NewRedis connects to the Redis instance at url.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &Redis{client: client, locks: redislock.New(client)}, nil
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	lock, err := r.locks.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: redislock.NoRetry()})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("obtain run lock: %w", err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// New returns a Redis locker when url is set and Noop otherwise.
func New(url string) (Locker, func() error, error) {
	if url == "" {
		return Noop{}, func() error { return nil }, nil
	}
	r, err := NewRedis(url)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}
