package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.RecoveryAttempt, snapshot *domain.FailureContext) error
	CountByPayment(ctx context.Context, merchantID string, gatewayPaymentID string) (int64, error)
	GetDispatchContext(ctx context.Context, id string) (*domain.DispatchContext, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, sentAt time.Time, reason string) (bool, error)
	CancelScheduled(ctx context.Context, merchantID string, gatewayPaymentID string) ([]string, error)
	// CancelIfRecovered cancels the payment's scheduled attempts only when its
	// payment event is already recovered.
	CancelIfRecovered(ctx context.Context, merchantID string, gatewayPaymentID string) ([]string, error)
	ListScheduled(ctx context.Context) ([]domain.RecoveryAttempt, error)
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]domain.RecoveryAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.RecoveryAttempt, snapshot *domain.FailureContext) error {
	model := attemptModelFromDomain(a, snapshot)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) CountByPayment(ctx context.Context, merchantID string, gatewayPaymentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RecoveryAttemptModel{}).
		Where("merchant_id = ? AND gateway_payment_id = ?", merchantID, gatewayPaymentID).
		Count(&count).Error
	return count, err
}

func (r *GormAttemptRepo) GetDispatchContext(ctx context.Context, id string) (*domain.DispatchContext, error) {
	var row dispatchRow
	result := r.db.WithContext(ctx).
		Table("recovery_attempts AS a").
		Select(`a.id, a.merchant_id, a.gateway_payment_id, a.attempt_no, a.channel,
			a.scheduled_at, a.status, a.sent_at, a.error, a.created_at,
			COALESCE(pe.status, 'failed') AS payment_status,
			COALESCE(pe.customer_email, a.customer_email) AS customer_email,
			COALESCE(pe.customer_phone, a.customer_phone) AS customer_phone,
			COALESCE(pe.amount, a.amount) AS amount,
			COALESCE(pe.currency, a.currency) AS currency,
			COALESCE(pe.failure_reason, a.failure_reason) AS failure_reason`).
		Joins(`LEFT JOIN payment_events pe
			ON pe.merchant_id = a.merchant_id
			AND pe.gateway_payment_id = a.gateway_payment_id`).
		Where("a.id = ?", id).
		Limit(1).
		Scan(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return dispatchRowToDomain(&row), nil
}

func (r *GormAttemptRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	return r.finish(ctx, id, map[string]any{
		"status":  domain.AttemptStatusSent,
		"sent_at": sentAt,
	})
}

func (r *GormAttemptRepo) MarkFailed(ctx context.Context, id string, sentAt time.Time, reason string) (bool, error) {
	return r.finish(ctx, id, map[string]any{
		"status":  domain.AttemptStatusFailed,
		"sent_at": sentAt,
		"error":   reason,
	})
}

// finish applies a terminal transition only while the attempt is still scheduled.
func (r *GormAttemptRepo) finish(ctx context.Context, id string, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RecoveryAttemptModel{}).
		Where("id = ? AND status = ?", id, domain.AttemptStatusScheduled).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormAttemptRepo) CancelScheduled(ctx context.Context, merchantID string, gatewayPaymentID string) ([]string, error) {
	var cancelled []RecoveryAttemptModel
	err := r.db.WithContext(ctx).
		Model(&cancelled).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("merchant_id = ? AND gateway_payment_id = ? AND status = ?",
			merchantID, gatewayPaymentID, domain.AttemptStatusScheduled).
		Update("status", domain.AttemptStatusCancelled).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cancelled))
	for i := range cancelled {
		ids = append(ids, cancelled[i].ID)
	}
	return ids, nil
}

func (r *GormAttemptRepo) CancelIfRecovered(ctx context.Context, merchantID string, gatewayPaymentID string) ([]string, error) {
	var cancelled []RecoveryAttemptModel
	err := r.db.WithContext(ctx).
		Model(&cancelled).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("merchant_id = ? AND gateway_payment_id = ? AND status = ?",
			merchantID, gatewayPaymentID, domain.AttemptStatusScheduled).
		Where(`EXISTS (SELECT 1 FROM payment_events pe
			WHERE pe.merchant_id = recovery_attempts.merchant_id
			AND pe.gateway_payment_id = recovery_attempts.gateway_payment_id
			AND pe.status = ?)`, domain.PaymentStatusRecovered).
		Update("status", domain.AttemptStatusCancelled).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cancelled))
	for i := range cancelled {
		ids = append(ids, cancelled[i].ID)
	}
	return ids, nil
}

func (r *GormAttemptRepo) ListScheduled(ctx context.Context) ([]domain.RecoveryAttempt, error) {
	var models []RecoveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.AttemptStatusScheduled).
		Order("scheduled_at ASC, attempt_no ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return attemptModelsToDomain(models), nil
}

func (r *GormAttemptRepo) ListOverdue(ctx context.Context, before time.Time, limit int) ([]domain.RecoveryAttempt, error) {
	var models []RecoveryAttemptModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.AttemptStatusScheduled, before).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return attemptModelsToDomain(models), nil
}

func attemptModelsToDomain(models []RecoveryAttemptModel) []domain.RecoveryAttempt {
	attempts := make([]domain.RecoveryAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}
	return attempts
}
