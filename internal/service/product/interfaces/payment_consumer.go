// internal/service/product/interfaces/payment_consumer.go
package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/pkg/logger"
	"nexus/internal/service/product/application"
	"nexus/internal/service/product/domain"
)

// PaymentConsumerAdapter 监听 payments 主题：
// 支付成功 → 核销预占；支付失败 → 补偿（退回可售）。
// 两条路径的分发只是路由细节，账本算术都在 Saga 里。
type PaymentConsumerAdapter struct {
	loop   *consumerLoop
	saga   *application.StockSagaService
	guard  *IdempotencyGuard
	tracer trace.Tracer
}

func NewPaymentConsumerAdapter(reader *kafka.Reader, saga *application.StockSagaService, guard *IdempotencyGuard, tracer trace.Tracer) *PaymentConsumerAdapter {
	a := &PaymentConsumerAdapter{saga: saga, guard: guard, tracer: tracer}
	a.loop = &consumerLoop{reader: reader, handle: a.handleMessage}
	return a
}

func (a *PaymentConsumerAdapter) Run(ctx context.Context) error { return a.loop.Run(ctx) }
func (a *PaymentConsumerAdapter) Stop(ctx context.Context)      { a.loop.Stop(ctx) }

func (a *PaymentConsumerAdapter) handleMessage(ctx context.Context, msg kafka.Message) {
	env, err := domain.DecodeEnvelope(msg.Value)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("failed to decode payment event, skipping")
		return
	}

	eventType, ok := domain.ParseEventType(env.EventType)
	if !ok {
		logger.Ctx(ctx).Warn().Str("event_type", env.EventType).Str("event_id", env.EventID).Msg("unknown event type on payments topic, dropped")
		return
	}

	switch eventType {
	case domain.EventTypePaymentSucceeded:
		a.processPaymentResult(ctx, env, msg, "consume.PaymentSucceeded", a.saga.ProcessPaymentSucceeded)
	case domain.EventTypePaymentFailed:
		a.processPaymentResult(ctx, env, msg, "consume.PaymentFailed", a.saga.ProcessPaymentFailed)
	case domain.EventTypeOrderCreated, domain.EventTypeStockReserved, domain.EventTypeStockReserveFailed:
		logger.Ctx(ctx).Warn().Str("event_type", env.EventType).Msg("unexpected event type on payments topic, dropped")
	}
}

func (a *PaymentConsumerAdapter) processPaymentResult(ctx context.Context, env *domain.EventEnvelope, msg kafka.Message,
	spanName string, process func(ctx context.Context, env *domain.EventEnvelope) error) {

	if !a.guard.FirstDelivery(ctx, env.EventID) {
		logger.Ctx(ctx).Info().Str("event_id", env.EventID).Str("event_type", env.EventType).Msg("duplicate payment event delivery, skipping")
		return
	}

	ctx, span := spanFromMetadata(ctx, a.tracer, env.DecodeMetadata(), spanName)
	defer span.End()

	if err := process(ctx, env); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().
			Err(err).
			Str("event_id", env.EventID).
			Str("event_type", env.EventType).
			Str("key", string(msg.Key)).
			Msg("failed to process payment event")
	}
}
