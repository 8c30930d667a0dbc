package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Installment 分期扣款
//
// DueDate 固定为每月 1 号（UTC），DischargedAt 为空表示未结清。
// 创建借款时一次性生成，之后只会被结清流程修改或随借款一起删除。
type Installment struct {
	ID            int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	ConsignmentID int64               `gorm:"not null;index" json:"consignment_id"`
	Number        int                 `gorm:"not null" json:"number"`
	DueDate       time.Time           `gorm:"not null;index" json:"due_date"`
	Value         decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"value"`
	DischargedAt  *time.Time          `json:"discharged_at,omitempty"`
	PaidValue     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"paid_value"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func (Installment) TableName() string {
	return "installment"
}

// Open 是否未结清
func (i *Installment) Open() bool {
	return i.DischargedAt == nil
}

// SumInstallments 分期金额合计
func SumInstallments(installments []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.Value)
	}
	return total
}
