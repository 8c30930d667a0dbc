package repository

import (
	"context"

	"consignsystem/internal/model"
	"consignsystem/pkg/cutoff"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InstallmentRepository 分期数据，同时承担本地额度台账的汇总查询
type InstallmentRepository struct {
	db *gorm.DB
}

func NewInstallmentRepository(db *gorm.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

// CreateBatch 一次性写入整个还款计划
func (r *InstallmentRepository) CreateBatch(ctx context.Context, tx *gorm.DB, installments []model.Installment) error {
	if tx == nil {
		tx = r.db
	}
	if len(installments) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&installments).Error
}

func (r *InstallmentRepository) DeleteByConsignmentID(ctx context.Context, tx *gorm.DB, consignmentID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("consignment_id = ?", consignmentID).
		Delete(&model.Installment{})
	return result.RowsAffected, result.Error
}

// SumOpenInPeriod 汇总受益人在账期内未结清的分期金额
//
// 只统计 active=true 且未取消的借款，扣款日落在 [账期首日, 下月首日) 内。
// 没有数据时返回 0。
func (r *InstallmentRepository) SumOpenInPeriod(ctx context.Context, tx *gorm.DB, beneficiaryID int64, period cutoff.Period) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}

	var total decimal.Decimal
	row := tx.WithContext(ctx).
		Table("installment").
		Select("COALESCE(SUM(installment.value), 0)").
		Joins("JOIN consignment ON consignment.id = installment.consignment_id").
		Where("consignment.beneficiary_id = ? AND consignment.active = ? AND consignment.canceled = ?", beneficiaryID, true, false).
		Where("installment.discharged_at IS NULL").
		Where("installment.due_date >= ? AND installment.due_date < ?", period.Start(), period.End()).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}

	return total.Round(2), nil
}
