// Package lock provides redis-backed mutual exclusion across API instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

var (
	// ErrBusy is returned when the lock stays held by another caller after every retry.
	ErrBusy = shared.NewError(shared.KindConflict, "resource is busy, retry")
	// ErrEmptyKey rejects blank lock keys.
	ErrEmptyKey = errors.New("lock: key cannot be empty")
)

// Options tune lock acquisition.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions returns the defaults used for approval critical sections.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Locker runs functions under a named distributed mutex.
type Locker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *slog.Logger
}

// New builds a Locker over the given redis client.
func New(client redis.UniversalClient, opts Options, logger *slog.Logger) *Locker {
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries < 1 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock executes fn while holding the lock named key.
// The lock is released when fn returns; errors from fn are returned unchanged.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			l.logger.Warn("lock busy", slog.String("key", key))
			return ErrBusy
		}
		return fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	defer func() {
		// Release with a fresh context so a cancelled request still unlocks.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.Error("release lock", slog.String("key", key), slog.Bool("unlock_ok", ok), slog.Any("error", err))
		}
	}()
	return fn(ctx)
}
