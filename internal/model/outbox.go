package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 待投递消息（审计事件等），由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);index" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

const (
	AuditActionConsignmentCreated  = "CONSIGNMENT_CREATED"
	AuditActionConsignmentDeleted  = "CONSIGNMENT_DELETED"
	AuditActionConsignmentCanceled = "CONSIGNMENT_CANCELED"
)

// AuditEvent 审计事件，写入 outbox 后由审计服务消费
type AuditEvent struct {
	Actor       string                 `json:"actor"`
	Action      string                 `json:"action"`
	EntityID    int64                  `json:"entity_id"`
	EntityName  string                 `json:"entity_name"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
