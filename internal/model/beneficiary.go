package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Beneficiary 受益人（工资单持有者）
//
// Type 决定额度来源：本地计算 or 外部工资机构实时授权，判断逻辑只在 MarginService.SourceFor 中。
// Limit/Margin 为本地缓存值，Margin 在外部机构不可用时作为兜底展示。
type Beneficiary struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string          `gorm:"type:varchar(128);not null" json:"name"`
	Type               int             `gorm:"not null;index" json:"type"`
	RegistrationNumber string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"registration_number"` // 工号（外部机构必填）
	TaxID              string          `gorm:"type:varchar(14);uniqueIndex;not null" json:"tax_id"`              // 税号（外部机构必填）
	Limit              decimal.Decimal `gorm:"column:credit_limit;type:decimal(12,2);not null;default:0" json:"limit"`
	Margin             decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"margin"` // 最近一次计算的可用额度
	Active             bool            `gorm:"not null" json:"active"`
	Blocked            bool            `gorm:"not null;default:false" json:"blocked"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Beneficiary) TableName() string {
	return "beneficiary"
}

// Eligible 是否允许新增借款
func (b *Beneficiary) Eligible() bool {
	return b.Active && !b.Blocked
}
