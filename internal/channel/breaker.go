package channel

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// breakerAdapter stops calling a provider that keeps failing. Missing contact
// data is a per-customer problem and never counts against the provider.
type breakerAdapter struct {
	ch   domain.Channel
	next Adapter
	cb   *gobreaker.CircuitBreaker
}

func WithBreaker(ch domain.Channel, next Adapter, settings BreakerSettings, logger *zap.Logger) Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "channel-" + ch.String(),
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrMissingContact)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("channel circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &breakerAdapter{ch: ch, next: next, cb: cb}
}

func (b *breakerAdapter) Send(ctx context.Context, destination string, message string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, destination, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &DeliveryError{Channel: b.ch, Reason: err.Error(), Cause: ErrCircuitOpen}
	}
	return err
}
