package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"gorm.io/gorm"
)

type MerchantRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Merchant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error)
}

type GormMerchantRepo struct {
	db *gorm.DB
}

func NewGormMerchantRepo(db *gorm.DB) *GormMerchantRepo {
	return &GormMerchantRepo{db: db}
}

func (r *GormMerchantRepo) GetByID(ctx context.Context, id string) (*domain.Merchant, error) {
	var model MerchantModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return merchantModelToDomain(&model), nil
}

func (r *GormMerchantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	var model MerchantModel
	err := r.db.WithContext(ctx).
		Where("api_key = ?", apiKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return merchantModelToDomain(&model), nil
}
