package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"gorm.io/gorm"
)

func createPaymentEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_payment_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PaymentEventModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_payment_events_merchant_status ON payment_events (merchant_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PaymentEventModel{})
		},
	}
}
