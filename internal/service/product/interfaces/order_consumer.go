// internal/service/product/interfaces/order_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/pkg/logger"
	"nexus/internal/service/product/application"
	"nexus/internal/service/product/domain"
)

// OrderConsumerAdapter 是一个驱动适配器：监听 orders 主题并驱动库存 Saga。
type OrderConsumerAdapter struct {
	loop   *consumerLoop
	saga   *application.StockSagaService
	guard  *IdempotencyGuard
	tracer trace.Tracer
}

func NewOrderConsumerAdapter(reader *kafka.Reader, saga *application.StockSagaService, guard *IdempotencyGuard, tracer trace.Tracer) *OrderConsumerAdapter {
	a := &OrderConsumerAdapter{saga: saga, guard: guard, tracer: tracer}
	a.loop = &consumerLoop{reader: reader, handle: a.handleMessage}
	return a
}

func (a *OrderConsumerAdapter) Run(ctx context.Context) error { return a.loop.Run(ctx) }
func (a *OrderConsumerAdapter) Stop(ctx context.Context)      { a.loop.Stop(ctx) }

// handleMessage 解析信封并按事件类型分发。
// 处理器抛出的任何错误在这里兜住并记日志，消息一律视为已处理。
func (a *OrderConsumerAdapter) handleMessage(ctx context.Context, msg kafka.Message) {
	env, err := domain.DecodeEnvelope(msg.Value)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("failed to decode order event, skipping")
		return
	}

	eventType, ok := domain.ParseEventType(env.EventType)
	if !ok {
		// 未知类型不是错误：记日志后丢弃
		logger.Ctx(ctx).Warn().Str("event_type", env.EventType).Str("event_id", env.EventID).Msg("unknown event type on orders topic, dropped")
		return
	}

	switch eventType {
	case domain.EventTypeOrderCreated:
		a.processOrderCreated(ctx, env, msg)
	case domain.EventTypeStockReserved, domain.EventTypeStockReserveFailed,
		domain.EventTypePaymentSucceeded, domain.EventTypePaymentFailed:
		// 这些类型不该出现在 orders 主题上
		logger.Ctx(ctx).Warn().Str("event_type", env.EventType).Msg("unexpected event type on orders topic, dropped")
	}
}

func (a *OrderConsumerAdapter) processOrderCreated(ctx context.Context, env *domain.EventEnvelope, msg kafka.Message) {
	if !a.guard.FirstDelivery(ctx, env.EventID) {
		logger.Ctx(ctx).Info().Str("event_id", env.EventID).Msg("duplicate ORDER_CREATED delivery, skipping")
		return
	}

	ctx, span := spanFromMetadata(ctx, a.tracer, env.DecodeMetadata(), "consume.OrderCreated")
	defer span.End()

	if err := a.saga.ProcessOrderCreated(ctx, env); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", env.EventID).
			Str("key", string(msg.Key)).
			Msg("failed to process ORDER_CREATED event")
	}
}
