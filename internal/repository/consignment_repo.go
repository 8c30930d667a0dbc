package repository

import (
	"context"
	"errors"
	"time"

	"consignsystem/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrConsignmentNotFound = errors.New("借款不存在")
	ErrDuplicateNumber     = errors.New("借款序号重复")
)

type ConsignmentRepository struct {
	db *gorm.DB
}

func NewConsignmentRepository(db *gorm.DB) *ConsignmentRepository {
	return &ConsignmentRepository{db: db}
}

// Create 只写借款主表，分期由 InstallmentRepository 写入
func (r *ConsignmentRepository) Create(ctx context.Context, tx *gorm.DB, consignment *model.Consignment) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Omit(clause.Associations).Create(consignment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateNumber
	}
	return err
}

// NextNumber 受益人维度的下一个序号（最大值 + 1，没有记录时为 1）
func (r *ConsignmentRepository) NextNumber(ctx context.Context, tx *gorm.DB, beneficiaryID int64) (int, error) {
	if tx == nil {
		tx = r.db
	}
	var max int
	err := tx.WithContext(ctx).
		Model(&model.Consignment{}).
		Select("COALESCE(MAX(number), 0)").
		Where("beneficiary_id = ?", beneficiaryID).
		Row().
		Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *ConsignmentRepository) GetByID(ctx context.Context, id int64) (*model.Consignment, error) {
	var consignment model.Consignment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&consignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConsignmentNotFound
		}
		return nil, err
	}
	return &consignment, nil
}

// GetWithDetails 连同受益人和分期一起加载
func (r *ConsignmentRepository) GetWithDetails(ctx context.Context, id int64) (*model.Consignment, error) {
	var consignment model.Consignment
	err := r.db.WithContext(ctx).
		Preload("Beneficiary").
		Preload("Installments", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Where("id = ?", id).
		First(&consignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConsignmentNotFound
		}
		return nil, err
	}
	if consignment.Beneficiary == nil {
		return nil, ErrBeneficiaryNotFound
	}
	return &consignment, nil
}

func (r *ConsignmentRepository) ListByBeneficiaryID(ctx context.Context, beneficiaryID int64, page, pageSize int) ([]*model.Consignment, int64, error) {
	var consignments []*model.Consignment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Consignment{}).Where("beneficiary_id = ?", beneficiaryID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("number DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&consignments).Error

	return consignments, total, err
}

// DeleteIfUnchanged 条件删除：只有版本号未变且仍为 active 时才删除
//
// 并发删除同一笔借款时，后到的请求 RowsAffected=0，返回 ErrConsignmentNotFound。
func (r *ConsignmentRepository) DeleteIfUnchanged(ctx context.Context, tx *gorm.DB, id int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("id = ? AND version = ? AND active = ? AND canceled = ?", id, version, true, false).
		Delete(&model.Consignment{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConsignmentNotFound
	}
	return nil
}

// CancelIfUnchanged 软取消，条件同 DeleteIfUnchanged
func (r *ConsignmentRepository) CancelIfUnchanged(ctx context.Context, tx *gorm.DB, id int64, version int, reason string, at time.Time) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Consignment{}).
		Where("id = ? AND version = ? AND active = ? AND canceled = ?", id, version, true, false).
		Updates(map[string]interface{}{
			"active":        false,
			"canceled":      true,
			"cancel_reason": reason,
			"canceled_at":   at,
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConsignmentNotFound
	}
	return nil
}
