package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttemptStatus is the lifecycle state of one recovery reminder step.
type AttemptStatus string

const (
	AttemptStatusScheduled AttemptStatus = "scheduled"
	AttemptStatusSent      AttemptStatus = "sent"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusCancelled AttemptStatus = "cancelled"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptStatusScheduled, AttemptStatusSent, AttemptStatusFailed, AttemptStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the attempt can no longer be dispatched.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSent || s == AttemptStatusFailed || s == AttemptStatusCancelled
}

// Channel is a notification transport for recovery reminders.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

// IsChat reports whether the channel delivers to a phone number.
func (c Channel) IsChat() bool {
	return c == ChannelWhatsApp
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// RecoveryAttempt is one scheduled reminder step for a failed payment.
type RecoveryAttempt struct {
	ID               string
	MerchantID       string
	GatewayPaymentID string
	Channel          Channel
	AttemptNo        int
	ScheduledAt      time.Time
	Status           AttemptStatus
	SentAt           *time.Time
	Error            *string
	CreatedAt        time.Time
}

// DispatchContext is an attempt joined with the current state of its payment event.
type DispatchContext struct {
	Attempt       RecoveryAttempt
	PaymentStatus PaymentStatus
	CustomerEmail string
	CustomerPhone string
	Amount        int64
	Currency      string
	FailureReason string
}
