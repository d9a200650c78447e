// internal/service/product/domain/event.go
package domain

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventType 是一个封闭的事件类型集合。
// 分发时用类型化的 switch 而不是裸字符串比较，新增类型时编译器能帮忙检查遗漏。
type EventType string

const (
	EventTypeOrderCreated       EventType = "ORDER_CREATED"
	EventTypeStockReserved      EventType = "STOCK_RESERVED"
	EventTypeStockReserveFailed EventType = "STOCK_RESERVE_FAILED"
	EventTypePaymentSucceeded   EventType = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed      EventType = "PAYMENT_FAILED"
)

// ParseEventType 把线上的字符串映射到封闭类型。未知类型返回 false，
// 调用方应当记日志后丢弃，而不是报错。
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypeOrderCreated,
		EventTypeStockReserved,
		EventTypeStockReserveFailed,
		EventTypePaymentSucceeded,
		EventTypePaymentFailed:
		return EventType(s), true
	default:
		return "", false
	}
}

// 聚合类型同时就是消息主题名。
const (
	AggregateTypeOrders   = "orders"
	AggregateTypePayments = "payments"
	AggregateTypeStocks   = "stocks"
)

// OrderItem 是订单里的一个条目。
type OrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// SagaEventPayload 是 Saga 推理的最小单元，在
// ORDER_CREATED / STOCK_RESERVED / STOCK_RESERVE_FAILED / PAYMENT_* 之间
// 原样携带，下游不需要回查订单就能还原受影响的商品。
type SagaEventPayload struct {
	OrderID     int64       `json:"orderId"`
	TotalAmount int64       `json:"totalAmount"`
	Items       []OrderItem `json:"items"`
}

// DistinctProductIDs 返回去重后的商品 ID，升序。
// 固定的加锁顺序是避免多订单交叉加锁死锁的前提。
func (p *SagaEventPayload) DistinctProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(p.Items))
	ids := make([]int64, 0, len(p.Items))
	for _, item := range p.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sortInt64s(ids)
	return ids
}

func sortInt64s(ids []int64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// EventMetadata 是随事件传递的追踪信封。
// 每跳都会重写：出站事件的 causationId 等于触发它的入站事件的 eventId，
// 这样整条 Saga 形成可追溯的因果链。
type EventMetadata struct {
	TraceID     string `json:"traceId"`
	CausationID string `json:"causationId"`
	UserID      string `json:"userId"`
	Timestamp   int64  `json:"timestamp"`
}

// EventEnvelope 是消息总线上的统一外壳（入站和出站同构）。
// Payload 和 Metadata 是二次 JSON 编码的字符串，与 outbox 表里的列一致。
type EventEnvelope struct {
	EventID       string `json:"eventId"`
	AggregateType string `json:"aggregateType"`
	AggregateID   string `json:"aggregateId"`
	EventType     string `json:"eventType"`
	Payload       string `json:"payload"`
	Metadata      string `json:"metadata"`
}

// DecodeEnvelope 解析消息体。
func DecodeEnvelope(raw []byte) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode event envelope")
	}
	return &env, nil
}

// DecodePayload 解析内层的 Saga 载荷。
func (e *EventEnvelope) DecodePayload() (*SagaEventPayload, error) {
	var payload SagaEventPayload
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		return nil, errors.Wrapf(err, "failed to decode payload of event %s", e.EventID)
	}
	return &payload, nil
}

// DecodeMetadata 解析追踪信封。metadata 缺失时返回零值而不是报错，
// 消费侧会退回到新建根 Span。
func (e *EventEnvelope) DecodeMetadata() EventMetadata {
	var meta EventMetadata
	if e.Metadata == "" {
		return meta
	}
	_ = json.Unmarshal([]byte(e.Metadata), &meta)
	return meta
}
