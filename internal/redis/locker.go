package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apk-portal/internal/apperr"
)

const lockPollInterval = 50 * time.Millisecond

// Locker serializes work on one key across every portal process.
type Locker struct {
	client *Client
	ttl    time.Duration
	wait   time.Duration
	log    *slog.Logger
}

// NewLocker creates a Locker whose locks expire after ttl and whose callers
// give up after waiting wait.
func NewLocker(client *Client, ttl time.Duration, wait time.Duration, log *slog.Logger) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		log:    log.With("component", "locker"),
	}
}

// VersionLockKey names the lock guarding one (application, version) pair
func VersionLockKey(applicationID uint, version string) string {
	return fmt.Sprintf("lock:version:%d:%s", applicationID, version)
}

// WithLock runs fn while holding key. It returns a Conflict error when the
// lock stays busy for longer than the configured wait.
func (l *Locker) WithLock(ctx context.Context, key string, fn func() error) error {
	token, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.client.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			l.log.Warn("lock release failed", "key", key, "error", err)
		}
	}()

	return fn()
}

func (l *Locker) acquire(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(l.wait)
	for {
		token, ok, err := l.client.AcquireLock(ctx, key, l.ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", apperr.Conflict("lock", "version is busy, try again")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
