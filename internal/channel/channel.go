// Package channel delivers a composed reminder to a customer over one
// messaging channel. Every adapter reports failure as a *DeliveryError so the
// reason can be stored on the attempt row.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

// Adapter sends one message to an already normalized destination.
type Adapter interface {
	Send(ctx context.Context, destination string, message string) error
}

// DeliveryError is the typed failure every adapter returns.
type DeliveryError struct {
	Channel    domain.Channel
	Reason     string
	StatusCode int
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("%s delivery failed", e.Channel))
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		parts = append(parts, reason)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// MissingContact reports a channel whose required contact field is absent.
func MissingContact(ch domain.Channel, field string) *DeliveryError {
	return &DeliveryError{
		Channel: ch,
		Reason:  "missing customer " + field,
		Cause:   domain.ErrMissingContact,
	}
}

// AsDeliveryError converts any send error into a DeliveryError for ch.
func AsDeliveryError(ch domain.Channel, err error) *DeliveryError {
	if err == nil {
		return nil
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Channel: ch, Reason: "send failed", Cause: err}
}

// FailureReason buckets a delivery error into a low-cardinality label.
func FailureReason(err error) string {
	var de *DeliveryError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrMissingContact):
		return "missing_contact"
	case errors.Is(err, ErrUnsupportedChannel):
		return "unsupported_channel"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &de) && de.StatusCode > 0:
		return "http_status"
	default:
		return "send_error"
	}
}

var (
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrNotConfigured      = errors.New("channel provider not configured")
	ErrCircuitOpen        = errors.New("channel circuit open")
)

// Registry resolves the adapter for a channel.
type Registry struct {
	adapters map[domain.Channel]Adapter
}

func NewRegistry(adapters map[domain.Channel]Adapter) *Registry {
	copied := make(map[domain.Channel]Adapter, len(adapters))
	for ch, a := range adapters {
		if a != nil {
			copied[ch] = a
		}
	}
	return &Registry{adapters: copied}
}

func (r *Registry) Get(ch domain.Channel) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[ch]; ok {
			return a, nil
		}
	}
	return nil, &DeliveryError{Channel: ch, Cause: ErrUnsupportedChannel}
}
