// internal/service/product/domain/outbox.go
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// OutboxStatus 只有两个值。PENDING→SENT 的迁移只由 relay 执行，
// 永不回退，行也永不删除（outbox 表同时是审计/重放日志）。
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
)

// OutboxEvent 是事务性发件箱的一行。
// 它和它描述的账本变更在同一个本地事务里落库，
// 只有“发布”这一步是异步解耦的。
type OutboxEvent struct {
	ID            int64
	EventID       string // 全局唯一，消费侧用作去重/关联令牌
	AggregateType string // 同时是目标主题
	AggregateID   string // 分区键，这里是订单 ID
	EventType     EventType
	Payload       string // JSON 编码的 SagaEventPayload
	Metadata      string // JSON 编码的 EventMetadata
	Status        OutboxStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOutboxEvent 组装一条待发布的出站事件。
func NewOutboxEvent(aggregateType, aggregateID string, eventType EventType, payload *SagaEventPayload, metadata EventMetadata) (*OutboxEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal outbox payload")
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal outbox metadata")
	}

	return &OutboxEvent{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       string(payloadJSON),
		Metadata:      string(metadataJSON),
		Status:        OutboxStatusPending,
	}, nil
}

// Envelope 把 outbox 行转成消息总线上的统一外壳。
func (e *OutboxEvent) Envelope() *EventEnvelope {
	return &EventEnvelope{
		EventID:       e.EventID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     string(e.EventType),
		Payload:       e.Payload,
		Metadata:      e.Metadata,
	}
}

// MarkSent 置为已发送。状态迁移单向，不做回退。
func (e *OutboxEvent) MarkSent() {
	e.Status = OutboxStatusSent
	e.UpdatedAt = time.Now()
}
