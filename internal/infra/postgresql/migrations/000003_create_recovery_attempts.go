package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"gorm.io/gorm"
)

func createRecoveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_recovery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecoveryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_attempts_scheduled_due ON recovery_attempts (scheduled_at) WHERE status = 'scheduled'`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_payment ON recovery_attempts (merchant_id, gateway_payment_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecoveryAttemptModel{})
		},
	}
}
