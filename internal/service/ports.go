package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/channel"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"gorm.io/gorm"
)

// TimerSet is the in-process scheduling service the engine arms attempts on.
type TimerSet interface {
	Arm(attemptID string, at time.Time) error
	Disarm(attemptID string) bool
	Armed(attemptID string) bool
}

// AdapterSource resolves the channel adapter for an attempt.
type AdapterSource interface {
	Get(ch domain.Channel) (channel.Adapter, error)
}

// Dispatcher runs one attempt to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, attemptID string) error
}

// FailureHandler plans reminders for a fresh failure.
type FailureHandler interface {
	Enqueue(ctx context.Context, fc domain.FailureContext) ([]domain.RecoveryAttempt, error)
}

// RecoveryHandler stops reminders for a recovered payment.
type RecoveryHandler interface {
	OnRecovered(ctx context.Context, sig domain.RecoverySignal) ([]string, error)
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
