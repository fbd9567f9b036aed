package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus is the recovery state of a failed payment.
type PaymentStatus string

const (
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRecovered PaymentStatus = "recovered"
)

func (s PaymentStatus) String() string { return string(s) }

const DefaultCurrency = "INR"

// PaymentEvent is the durable fact that a gateway payment failed, and later maybe recovered.
type PaymentEvent struct {
	MerchantID       string
	GatewayPaymentID string
	CustomerEmail    string
	CustomerPhone    string
	Amount           int64
	Currency         string
	Status           PaymentStatus
	FailureReason    string
	CreatedAt        time.Time
	RecoveredAt      *time.Time
}

// FailureContext is the normalized payload handed to the retry engine for a fresh failure.
// Customer and amount fields are copies taken at ingestion time.
type FailureContext struct {
	MerchantID       string `json:"merchantId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	CustomerEmail    string `json:"customerEmail,omitempty"`
	CustomerPhone    string `json:"customerPhone,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	FailureReason    string `json:"failureReason,omitempty"`
}

func (f *FailureContext) Normalize() {
	f.MerchantID = strings.TrimSpace(f.MerchantID)
	f.GatewayPaymentID = strings.TrimSpace(f.GatewayPaymentID)
	f.CustomerEmail = strings.TrimSpace(f.CustomerEmail)
	f.CustomerPhone = strings.TrimSpace(f.CustomerPhone)
	f.FailureReason = strings.TrimSpace(f.FailureReason)
	f.Currency = strings.ToUpper(strings.TrimSpace(f.Currency))
	if f.Currency == "" {
		f.Currency = DefaultCurrency
	}
}

func (f FailureContext) Validate() error {
	if strings.TrimSpace(f.MerchantID) == "" {
		return fmt.Errorf("%w: merchant id is required", ErrValidation)
	}
	if strings.TrimSpace(f.GatewayPaymentID) == "" {
		return fmt.Errorf("%w: gateway payment id is required", ErrValidation)
	}
	if f.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative (got %d)", ErrValidation, f.Amount)
	}
	if c := strings.TrimSpace(f.Currency); c != "" && len(c) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code (got %q)", ErrValidation, f.Currency)
	}
	return nil
}

// PaymentEvent builds the Event Store row for a first failure signal.
func (f FailureContext) PaymentEvent() *PaymentEvent {
	return &PaymentEvent{
		MerchantID:       f.MerchantID,
		GatewayPaymentID: f.GatewayPaymentID,
		CustomerEmail:    f.CustomerEmail,
		CustomerPhone:    f.CustomerPhone,
		Amount:           f.Amount,
		Currency:         f.Currency,
		Status:           PaymentStatusFailed,
		FailureReason:    f.FailureReason,
	}
}

// RecoverySignal reports that a previously failed payment was captured.
type RecoverySignal struct {
	MerchantID       string `json:"merchantId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
}

func (r RecoverySignal) Validate() error {
	if strings.TrimSpace(r.MerchantID) == "" {
		return fmt.Errorf("%w: merchant id is required", ErrValidation)
	}
	if strings.TrimSpace(r.GatewayPaymentID) == "" {
		return fmt.Errorf("%w: gateway payment id is required", ErrValidation)
	}
	return nil
}
