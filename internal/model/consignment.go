package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ConsignmentStatusActive   = "ACTIVE"
	ConsignmentStatusCanceled = "CANCELED"
	ConsignmentStatusInactive = "INACTIVE"
)

// Consignment 工资扣款借款
//
// 状态流转：Active -> Canceled（软取消）/ Deleted（硬删除），两者都是终态。
// Number 按受益人维度递增，不是全局序号。
type Consignment struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BeneficiaryID    int64           `gorm:"not null;uniqueIndex:idx_beneficiary_number" json:"beneficiary_id"`
	Number           int             `gorm:"not null;uniqueIndex:idx_beneficiary_number" json:"number"`
	CounterpartID    *int64          `gorm:"index" json:"counterpart_id,omitempty"` // 授权商户（可选）
	Total            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Quantity         int             `gorm:"not null" json:"quantity"`
	InstallmentValue decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"installment_value"`
	Active           bool            `gorm:"not null;index" json:"active"`
	Canceled         bool            `gorm:"not null;default:false" json:"canceled"`
	CancelReason     string          `gorm:"type:varchar(256)" json:"cancel_reason,omitempty"`
	CanceledAt       *time.Time      `json:"canceled_at,omitempty"`
	Operator         string          `gorm:"type:varchar(64)" json:"operator,omitempty"`
	Version          int             `gorm:"not null;default:0" json:"version"` // 删除/取消时做条件校验
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Beneficiary  *Beneficiary  `gorm:"foreignKey:BeneficiaryID" json:"beneficiary,omitempty"`
	Installments []Installment `gorm:"foreignKey:ConsignmentID" json:"installments,omitempty"`
}

func (Consignment) TableName() string {
	return "consignment"
}

// Status 对外展示的状态
func (c *Consignment) Status() string {
	switch {
	case c.Canceled:
		return ConsignmentStatusCanceled
	case c.Active:
		return ConsignmentStatusActive
	default:
		return ConsignmentStatusInactive
	}
}

// Deletable 只有 Active 且未取消的借款可以删除/取消
func (c *Consignment) Deletable() bool {
	return c.Active && !c.Canceled
}
