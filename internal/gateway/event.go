// Package gateway turns raw Razorpay webhook bodies into a small tagged event
// type and checks their signatures.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

const (
	EventPaymentFailed   = "payment.failed"
	EventPaymentCaptured = "payment.captured"
)

type Kind int

const (
	KindOther Kind = iota
	KindFailed
	KindCaptured
)

func (k Kind) String() string {
	switch k {
	case KindFailed:
		return "failed"
	case KindCaptured:
		return "captured"
	default:
		return "other"
	}
}

// Payment is the subset of a Razorpay payment entity the engine uses.
type Payment struct {
	ID               string `json:"id" validate:"required"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	Amount           int64  `json:"amount" validate:"gte=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3,alpha"`
	ErrorDescription string `json:"error_description"`
	ErrorReason      string `json:"error_reason"`
}

// Event is one webhook delivery. Payment is set for KindFailed and KindCaptured.
type Event struct {
	Kind    Kind
	Name    string
	Payment *Payment
}

type envelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity *Payment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Parse decodes a webhook body. Unknown event names parse to KindOther; failed
// and captured events must carry a valid payment entity.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: invalid webhook json: %v", domain.ErrValidation, err)
	}

	name := strings.TrimSpace(env.Event)
	var kind Kind
	switch name {
	case EventPaymentFailed:
		kind = KindFailed
	case EventPaymentCaptured:
		kind = KindCaptured
	default:
		return Event{Kind: KindOther, Name: name}, nil
	}

	p := env.Payload.Payment.Entity
	if p == nil {
		return Event{}, fmt.Errorf("%w: %s without payment entity", domain.ErrValidation, name)
	}
	p.ID = strings.TrimSpace(p.ID)
	p.Currency = strings.TrimSpace(p.Currency)

	if err := payloadValidator().Struct(p); err != nil {
		return Event{}, fmt.Errorf("%w: %s", domain.ErrValidation, describe(err))
	}

	return Event{Kind: kind, Name: name, Payment: p}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("payment.%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// FailureReason prefers the human description over the machine reason code.
func (p *Payment) FailureReason() string {
	if d := strings.TrimSpace(p.ErrorDescription); d != "" {
		return d
	}
	return strings.TrimSpace(p.ErrorReason)
}

// FailureContext maps a failed payment to the engine's normalized input.
func (p *Payment) FailureContext(merchantID string) domain.FailureContext {
	fc := domain.FailureContext{
		MerchantID:       merchantID,
		GatewayPaymentID: p.ID,
		CustomerEmail:    p.Email,
		CustomerPhone:    strings.ReplaceAll(p.Contact, "+", ""),
		Amount:           p.Amount,
		Currency:         p.Currency,
		FailureReason:    p.FailureReason(),
	}
	fc.Normalize()
	return fc
}

func (p *Payment) RecoverySignal(merchantID string) domain.RecoverySignal {
	return domain.RecoverySignal{MerchantID: merchantID, GatewayPaymentID: p.ID}
}
