package repository

import (
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

// MerchantModel is the persistence model for the merchants table.
type MerchantModel struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	Name             string `gorm:"type:varchar(255);not null"`
	APIKey           string `gorm:"type:varchar(64);not null;uniqueIndex:idx_merchants_api_key"`
	WebhookSecret    string `gorm:"type:varchar(255);not null;default:''"`
	DefaultChannel   string `gorm:"type:varchar(20);not null;default:''"`
	RecoverySchedule string `gorm:"type:varchar(255);not null;default:''"`
	CreatedAt        time.Time
}

func (MerchantModel) TableName() string {
	return "merchants"
}

// PaymentEventModel is the persistence model for the payment_events table.
type PaymentEventModel struct {
	ID               uint                 `gorm:"primaryKey;autoIncrement"`
	MerchantID       string               `gorm:"type:uuid;not null;uniqueIndex:idx_payment_events_merchant_payment,priority:1"`
	GatewayPaymentID string               `gorm:"type:varchar(64);not null;uniqueIndex:idx_payment_events_merchant_payment,priority:2"`
	CustomerEmail    string               `gorm:"type:varchar(255);not null;default:''"`
	CustomerPhone    string               `gorm:"type:varchar(32);not null;default:''"`
	Amount           int64                `gorm:"not null;default:0"`
	Currency         string               `gorm:"type:varchar(3);not null"`
	Status           domain.PaymentStatus `gorm:"type:varchar(20);not null"`
	FailureReason    string               `gorm:"type:text;not null;default:''"`
	CreatedAt        time.Time
	RecoveredAt      *time.Time
}

func (PaymentEventModel) TableName() string {
	return "payment_events"
}

// RecoveryAttemptModel is the persistence model for recovery_attempts.
// Customer and amount columns are a snapshot taken at enqueue time; dispatch
// prefers the live payment_events values and falls back to the snapshot.
type RecoveryAttemptModel struct {
	ID               string               `gorm:"type:uuid;primaryKey"`
	MerchantID       string               `gorm:"type:uuid;not null;uniqueIndex:idx_attempts_payment_attempt_no,priority:1"`
	GatewayPaymentID string               `gorm:"type:varchar(64);not null;uniqueIndex:idx_attempts_payment_attempt_no,priority:2"`
	AttemptNo        int                  `gorm:"not null;uniqueIndex:idx_attempts_payment_attempt_no,priority:3"`
	Channel          domain.Channel       `gorm:"type:varchar(20);not null"`
	ScheduledAt      time.Time            `gorm:"type:timestamptz;not null"`
	Status           domain.AttemptStatus `gorm:"type:varchar(20);not null"`
	SentAt           *time.Time           `gorm:"type:timestamptz"`
	Error            *string              `gorm:"type:text"`
	CustomerEmail    string               `gorm:"type:varchar(255);not null;default:''"`
	CustomerPhone    string               `gorm:"type:varchar(32);not null;default:''"`
	Amount           int64                `gorm:"not null;default:0"`
	Currency         string               `gorm:"type:varchar(3);not null;default:''"`
	FailureReason    string               `gorm:"type:text;not null;default:''"`
	CreatedAt        time.Time
}

func (RecoveryAttemptModel) TableName() string {
	return "recovery_attempts"
}

// dispatchRow is the scan target for an attempt joined with its payment event.
type dispatchRow struct {
	ID               string
	MerchantID       string
	GatewayPaymentID string
	AttemptNo        int
	Channel          domain.Channel
	ScheduledAt      time.Time
	Status           domain.AttemptStatus
	SentAt           *time.Time
	Error            *string
	CreatedAt        time.Time
	PaymentStatus    domain.PaymentStatus
	CustomerEmail    string
	CustomerPhone    string
	Amount           int64
	Currency         string
	FailureReason    string
}

func merchantModelToDomain(m *MerchantModel) *domain.Merchant {
	if m == nil {
		return nil
	}

	return &domain.Merchant{
		ID:               m.ID,
		Name:             m.Name,
		APIKey:           m.APIKey,
		WebhookSecret:    m.WebhookSecret,
		DefaultChannel:   m.DefaultChannel,
		RecoverySchedule: m.RecoverySchedule,
		CreatedAt:        m.CreatedAt,
	}
}

func paymentEventModelFromDomain(e *domain.PaymentEvent) *PaymentEventModel {
	if e == nil {
		return nil
	}

	return &PaymentEventModel{
		MerchantID:       e.MerchantID,
		GatewayPaymentID: e.GatewayPaymentID,
		CustomerEmail:    e.CustomerEmail,
		CustomerPhone:    e.CustomerPhone,
		Amount:           e.Amount,
		Currency:         e.Currency,
		Status:           e.Status,
		FailureReason:    e.FailureReason,
		CreatedAt:        e.CreatedAt,
		RecoveredAt:      e.RecoveredAt,
	}
}

func paymentEventModelToDomain(m *PaymentEventModel) *domain.PaymentEvent {
	if m == nil {
		return nil
	}

	return &domain.PaymentEvent{
		MerchantID:       m.MerchantID,
		GatewayPaymentID: m.GatewayPaymentID,
		CustomerEmail:    m.CustomerEmail,
		CustomerPhone:    m.CustomerPhone,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Status:           m.Status,
		FailureReason:    m.FailureReason,
		CreatedAt:        m.CreatedAt,
		RecoveredAt:      m.RecoveredAt,
	}
}

func attemptModelFromDomain(a *domain.RecoveryAttempt, snapshot *domain.FailureContext) *RecoveryAttemptModel {
	if a == nil {
		return nil
	}

	m := &RecoveryAttemptModel{
		ID:               a.ID,
		MerchantID:       a.MerchantID,
		GatewayPaymentID: a.GatewayPaymentID,
		AttemptNo:        a.AttemptNo,
		Channel:          a.Channel,
		ScheduledAt:      a.ScheduledAt,
		Status:           a.Status,
		SentAt:           a.SentAt,
		Error:            a.Error,
		CreatedAt:        a.CreatedAt,
	}
	if snapshot != nil {
		m.CustomerEmail = snapshot.CustomerEmail
		m.CustomerPhone = snapshot.CustomerPhone
		m.Amount = snapshot.Amount
		m.Currency = snapshot.Currency
		m.FailureReason = snapshot.FailureReason
	}
	return m
}

func attemptModelToDomain(m *RecoveryAttemptModel) *domain.RecoveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.RecoveryAttempt{
		ID:               m.ID,
		MerchantID:       m.MerchantID,
		GatewayPaymentID: m.GatewayPaymentID,
		Channel:          m.Channel,
		AttemptNo:        m.AttemptNo,
		ScheduledAt:      m.ScheduledAt,
		Status:           m.Status,
		SentAt:           m.SentAt,
		Error:            m.Error,
		CreatedAt:        m.CreatedAt,
	}
}

func dispatchRowToDomain(r *dispatchRow) *domain.DispatchContext {
	if r == nil {
		return nil
	}

	return &domain.DispatchContext{
		Attempt: domain.RecoveryAttempt{
			ID:               r.ID,
			MerchantID:       r.MerchantID,
			GatewayPaymentID: r.GatewayPaymentID,
			Channel:          r.Channel,
			AttemptNo:        r.AttemptNo,
			ScheduledAt:      r.ScheduledAt,
			Status:           r.Status,
			SentAt:           r.SentAt,
			Error:            r.Error,
			CreatedAt:        r.CreatedAt,
		},
		PaymentStatus: r.PaymentStatus,
		CustomerEmail: r.CustomerEmail,
		CustomerPhone: r.CustomerPhone,
		Amount:        r.Amount,
		Currency:      r.Currency,
		FailureReason: r.FailureReason,
	}
}
