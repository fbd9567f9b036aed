package ratelimit

import (
	"context"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

// SendLimiter caps outbound reminder sends per channel.
type SendLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}

// Unlimited never throttles.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, domain.Channel) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ domain.Channel) error { return ctx.Err() }
