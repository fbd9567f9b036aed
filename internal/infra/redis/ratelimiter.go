package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec int64 = 100
	waitStep                 = 20 * time.Millisecond
	waitMax                  = 200 * time.Millisecond
	sendKeyPrefix            = "recovery:sends"
)

// Counts sends in a one-second bucket; the first hit sets the bucket TTL.
var sendWindowScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("EXPIRE", KEYS[1], 2)
end
if n > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.SendLimiter = (*SendLimiter)(nil)

// SendLimiter throttles reminder sends per channel across all engine instances.
type SendLimiter struct {
	client   *goredis.Client
	limits   map[domain.Channel]int64
	fallback int64
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSendLimiter caps every channel at perSec sends per second unless
// overrides names a different cap for that channel.
func NewSendLimiter(client *goredis.Client, perSec int, overrides map[domain.Channel]int) (*SendLimiter, error) {
	return newSendLimiter(client, perSec, overrides, time.Now, sleepCtx)
}

func newSendLimiter(
	client *goredis.Client,
	perSec int,
	overrides map[domain.Channel]int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SendLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	fallback := int64(perSec)
	if fallback <= 0 {
		fallback = defaultSendsPerSec
	}

	limits := make(map[domain.Channel]int64, len(overrides))
	for ch, n := range overrides {
		if n > 0 {
			limits[ch] = int64(n)
		}
	}

	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepCtx
	}

	return &SendLimiter{
		client:   client,
		limits:   limits,
		fallback: fallback,
		now:      nowFn,
		sleep:    sleepFn,
	}, nil
}

func (l *SendLimiter) limitFor(ch domain.Channel) int64 {
	if n, ok := l.limits[ch]; ok {
		return n
	}
	return l.fallback
}

func (l *SendLimiter) Allow(ctx context.Context, ch domain.Channel) (bool, error) {
	if !ch.IsValid() {
		return false, fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, ch)
	}

	key := fmt.Sprintf("%s:%s:%d", sendKeyPrefix, ch, l.now().UTC().Unix())
	ok, err := sendWindowScript.Run(ctx, l.client, []string{key}, l.limitFor(ch)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send limit: %w", err)
	}
	return ok == 1, nil
}

// Wait blocks until a send slot for ch is available or ctx ends.
func (l *SendLimiter) Wait(ctx context.Context, ch domain.Channel) error {
	delay := waitStep
	for {
		ok, err := l.Allow(ctx, ch)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > waitMax {
			delay = waitMax
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
