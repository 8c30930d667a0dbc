package repository

import (
	"context"
	"errors"

	"consignsystem/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrBeneficiaryNotFound = errors.New("受益人不存在")

type BeneficiaryRepository struct {
	db *gorm.DB
}

func NewBeneficiaryRepository(db *gorm.DB) *BeneficiaryRepository {
	return &BeneficiaryRepository{db: db}
}

func (r *BeneficiaryRepository) Create(ctx context.Context, beneficiary *model.Beneficiary) error {
	return r.db.WithContext(ctx).Create(beneficiary).Error
}

func (r *BeneficiaryRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Beneficiary, error) {
	if tx == nil {
		tx = r.db
	}
	var beneficiary model.Beneficiary
	err := tx.WithContext(ctx).Where("id = ?", id).First(&beneficiary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &beneficiary, nil
}

func (r *BeneficiaryRepository) GetByRegistrationNumber(ctx context.Context, registrationNumber string) (*model.Beneficiary, error) {
	var beneficiary model.Beneficiary
	err := r.db.WithContext(ctx).Where("registration_number = ?", registrationNumber).First(&beneficiary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBeneficiaryNotFound
		}
		return nil, err
	}
	return &beneficiary, nil
}

// UpdateMargin 刷新缓存的可用额度
func (r *BeneficiaryRepository) UpdateMargin(ctx context.Context, tx *gorm.DB, id int64, margin decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Beneficiary{}).
		Where("id = ?", id).
		Update("margin", margin)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBeneficiaryNotFound
	}
	return nil
}
