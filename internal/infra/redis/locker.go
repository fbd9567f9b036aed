package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/kursadbilgin/recovery-engine/internal/lock"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultLockTTL = 30 * time.Second

var _ lock.Locker = (*Locker)(nil)

// Locker hands out single-try redsync mutexes.
type Locker struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *zap.Logger
}

func NewLocker(client *goredislib.Client, ttl time.Duration, logger *zap.Logger) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (l *Locker) Obtain(ctx context.Context, key string) (func(), bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, fmt.Errorf("lock key is required")
	}

	m := l.rs.NewMutex(key, redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	release := func() {
		// Unlock must survive a cancelled caller context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := m.UnlockContext(ctx); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
