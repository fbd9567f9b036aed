package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentEventRepository is the Event Store.
type PaymentEventRepository interface {
	// InsertIfAbsent creates the event unless (merchant, payment id) already exists.
	// It reports whether a new row was inserted.
	InsertIfAbsent(ctx context.Context, e *domain.PaymentEvent) (bool, error)
	// MarkRecovered moves a failed event to recovered and reports whether it transitioned.
	MarkRecovered(ctx context.Context, merchantID string, gatewayPaymentID string, at time.Time) (bool, error)
}

type GormPaymentEventRepo struct {
	db *gorm.DB
}

func NewGormPaymentEventRepo(db *gorm.DB) *GormPaymentEventRepo {
	return &GormPaymentEventRepo{db: db}
}

func (r *GormPaymentEventRepo) InsertIfAbsent(ctx context.Context, e *domain.PaymentEvent) (bool, error) {
	model := paymentEventModelFromDomain(e)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "gateway_payment_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	*e = *paymentEventModelToDomain(model)
	return true, nil
}

func (r *GormPaymentEventRepo) MarkRecovered(
	ctx context.Context,
	merchantID string,
	gatewayPaymentID string,
	at time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PaymentEventModel{}).
		Where("merchant_id = ? AND gateway_payment_id = ? AND status = ?",
			merchantID, gatewayPaymentID, domain.PaymentStatusFailed).
		Updates(map[string]any{
			"status":       domain.PaymentStatusRecovered,
			"recovered_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
