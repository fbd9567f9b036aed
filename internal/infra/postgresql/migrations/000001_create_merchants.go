package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"gorm.io/gorm"
)

func createMerchantsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_merchants",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.MerchantModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MerchantModel{})
		},
	}
}
