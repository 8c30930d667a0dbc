package service

import (
	"context"
	"encoding/json"

	"consignsystem/internal/model"
	"consignsystem/internal/repository"
	"consignsystem/pkg/idgen"

	"go.uber.org/zap"
)

// AuditRecorder 记录审计事件，失败不影响主流程
type AuditRecorder interface {
	Record(ctx context.Context, event model.AuditEvent)
}

// OutboxAuditRecorder 审计事件写入 outbox，由 OutboxSender 投递到 Kafka
type OutboxAuditRecorder struct {
	outboxRepo *repository.OutboxRepository
	topic      string
	logger     *zap.Logger
}

func NewOutboxAuditRecorder(outboxRepo *repository.OutboxRepository, topic string, logger *zap.Logger) *OutboxAuditRecorder {
	return &OutboxAuditRecorder{
		outboxRepo: outboxRepo,
		topic:      topic,
		logger:     logger.Named("audit"),
	}
}

func (r *OutboxAuditRecorder) Record(ctx context.Context, event model.AuditEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("审计事件序列化失败", zap.String("action", event.Action), zap.Error(err))
		return
	}

	msg := &model.OutboxMessage{
		MessageKey: idgen.GenerateAuditKey(),
		Topic:      r.topic,
		EventType:  event.Action,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := r.outboxRepo.Create(ctx, nil, msg); err != nil {
		r.logger.Error("审计事件写入失败",
			zap.String("action", event.Action),
			zap.Int64("entity_id", event.EntityID),
			zap.Error(err),
		)
	}
}

type nopAuditRecorder struct{}

func (nopAuditRecorder) Record(context.Context, model.AuditEvent) {}
