// internal/service/product/application/saga.go
package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/pkg/logger"
	"nexus/internal/service/product/domain"
)

// StockSagaService 是库存预占 Saga 的事务入口。
// 每个入站事件对应一次调用；账本读写和 outbox 写入都发生在同一个本地事务里。
type StockSagaService struct {
	uow    domain.UnitOfWork
	tracer trace.Tracer
}

func NewStockSagaService(uow domain.UnitOfWork, tracer trace.Tracer) *StockSagaService {
	return &StockSagaService{uow: uow, tracer: tracer}
}

// ProcessOrderCreated 处理 ORDER_CREATED：整单校验通过才预占，
// 任何一个条目不满足就整单放弃（不做部分预占），并发出 STOCK_RESERVE_FAILED。
func (s *StockSagaService) ProcessOrderCreated(ctx context.Context, incoming *domain.EventEnvelope) error {
	ctx, span := s.tracer.Start(ctx, "saga.ProcessOrderCreated", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	payload, err := incoming.DecodePayload()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return err
	}
	metadata := incoming.DecodeMetadata()

	span.SetAttributes(
		attribute.Int64("order.id", payload.OrderID),
		attribute.Int("order.items", len(payload.Items)),
		attribute.String("event.causation_id", incoming.EventID),
	)

	err = s.uow.Execute(ctx, func(ctx context.Context, ledger domain.LedgerRepository, outbox domain.OutboxRepository) error {
		// 1. 整单涉及的商品一次性按升序加锁，两个竞争同一商品的订单在这里串行化
		products, err := ledger.LockAndFetch(ctx, payload.DistinctProductIDs())
		if err != nil {
			return err
		}

		// 2. 按条目顺序逐一校验，先校验完再改账
		var failure *reservationFailure
		for _, item := range payload.Items {
			product, ok := products[item.ProductID]
			if !ok {
				failure = &reservationFailure{productID: item.ProductID, reason: "product not found"}
				break
			}
			if !product.CanReserve(item.Quantity) {
				failure = &reservationFailure{
					productID: item.ProductID,
					reason:    "insufficient stock",
					required:  item.Quantity,
					available: product.StockAvailable,
				}
				break
			}
		}

		// 3. 任一条目失败：整单不动账，只落一条失败事件
		if failure != nil {
			logger.Ctx(ctx).Warn().
				Int64("order_id", payload.OrderID).
				Int64("product_id", failure.productID).
				Str("reason", failure.reason).
				Int("required", failure.required).
				Int("available", failure.available).
				Msg("[Saga] Stock check failed")
			span.AddEvent("stock reservation rejected")
			sagaOutcomes.WithLabelValues("reserve_failed").Inc()
			return s.appendOutbox(ctx, outbox, payload, metadata, incoming.EventID, domain.EventTypeStockReserveFailed)
		}

		// 4. 全部通过：对每个条目做 可售-=qty / 预占+=qty
		mutated := make([]*domain.Product, 0, len(payload.Items))
		for _, item := range payload.Items {
			product := products[item.ProductID]
			if err := product.Reserve(item.Quantity); err != nil {
				// 校验和加锁都过了还失败，说明同一事务内部自相矛盾
				return err
			}
			mutated = append(mutated, product)
		}
		if err := ledger.Save(ctx, mutated); err != nil {
			return err
		}

		logger.Ctx(ctx).Info().
			Int64("order_id", payload.OrderID).
			Int("items", len(payload.Items)).
			Msg("[Saga] Stock reserved")
		sagaOutcomes.WithLabelValues("reserved").Inc()
		return s.appendOutbox(ctx, outbox, payload, metadata, incoming.EventID, domain.EventTypeStockReserved)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation transaction failed")
		return err
	}
	return nil
}

// ProcessPaymentSucceeded 处理 PAYMENT_SUCCEEDED：核销预占。
// 预占数量被永久消耗（消耗本身在本服务范围之外），可售库存不动。
func (s *StockSagaService) ProcessPaymentSucceeded(ctx context.Context, incoming *domain.EventEnvelope) error {
	ctx, span := s.tracer.Start(ctx, "saga.ProcessPaymentSucceeded", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	payload, err := incoming.DecodePayload()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return err
	}
	span.SetAttributes(attribute.Int64("order.id", payload.OrderID))

	err = s.uow.Execute(ctx, func(ctx context.Context, ledger domain.LedgerRepository, outbox domain.OutboxRepository) error {
		products, err := ledger.LockAndFetch(ctx, payload.DistinctProductIDs())
		if err != nil {
			return err
		}

		mutated := make([]*domain.Product, 0, len(payload.Items))
		for _, item := range payload.Items {
			product, ok := products[item.ProductID]
			if !ok {
				logger.Ctx(ctx).Error().
					Int64("order_id", payload.OrderID).
					Int64("product_id", item.ProductID).
					Msg("CRITICAL: product not found during stock confirmation")
				continue
			}
			if drifted := product.ConfirmReservation(item.Quantity); drifted {
				// 账目漂移：记错误日志但不让流程失败，计数已被钳制在 0
				logger.Ctx(ctx).Error().
					Int64("order_id", payload.OrderID).
					Int64("product_id", item.ProductID).
					Int("expected", item.Quantity).
					Msg("CRITICAL: reserved stock mismatch during confirmation")
			}
			mutated = append(mutated, product)
		}
		sagaOutcomes.WithLabelValues("confirmed").Inc()
		return ledger.Save(ctx, mutated)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation transaction failed")
		return err
	}

	logger.Ctx(ctx).Info().Int64("order_id", payload.OrderID).Msg("[Saga] Stock consumption confirmed")
	return nil
}

// ProcessPaymentFailed 处理 PAYMENT_FAILED：补偿，把预占退回可售。
// 退回量取 min(条目数量, 当前预占)，即使账目漂移也不会让预占变负。
func (s *StockSagaService) ProcessPaymentFailed(ctx context.Context, incoming *domain.EventEnvelope) error {
	ctx, span := s.tracer.Start(ctx, "saga.ProcessPaymentFailed", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	payload, err := incoming.DecodePayload()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return err
	}
	span.SetAttributes(attribute.Int64("order.id", payload.OrderID))

	err = s.uow.Execute(ctx, func(ctx context.Context, ledger domain.LedgerRepository, outbox domain.OutboxRepository) error {
		products, err := ledger.LockAndFetch(ctx, payload.DistinctProductIDs())
		if err != nil {
			return err
		}

		mutated := make([]*domain.Product, 0, len(payload.Items))
		for _, item := range payload.Items {
			product, ok := products[item.ProductID]
			if !ok {
				logger.Ctx(ctx).Error().
					Int64("order_id", payload.OrderID).
					Int64("product_id", item.ProductID).
					Msg("CRITICAL: product not found during stock compensation")
				continue
			}
			returned := product.ReleaseReservation(item.Quantity)
			if returned < item.Quantity {
				logger.Ctx(ctx).Error().
					Int64("order_id", payload.OrderID).
					Int64("product_id", item.ProductID).
					Int("expected", item.Quantity).
					Int("returned", returned).
					Msg("CRITICAL: reserved stock mismatch during compensation")
			}
			mutated = append(mutated, product)
		}
		sagaOutcomes.WithLabelValues("compensated").Inc()
		return ledger.Save(ctx, mutated)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation transaction failed")
		return err
	}

	logger.Ctx(ctx).Info().Int64("order_id", payload.OrderID).Msg("[Saga] Stock compensation applied")
	return nil
}

// appendOutbox 在当前事务里写一条出站事件。
// 出站 metadata 的 causationId 固定设为触发本次处理的入站事件 eventId。
func (s *StockSagaService) appendOutbox(ctx context.Context, outbox domain.OutboxRepository,
	payload *domain.SagaEventPayload, incoming domain.EventMetadata, causationEventID string, eventType domain.EventType) error {

	outgoing := domain.EventMetadata{
		TraceID:     incoming.TraceID,
		CausationID: causationEventID,
		UserID:      incoming.UserID,
		Timestamp:   time.Now().UnixMilli(),
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() && outgoing.TraceID == "" {
		outgoing.TraceID = spanCtx.TraceID().String()
	}

	event, err := domain.NewOutboxEvent(
		domain.AggregateTypeStocks,
		formatOrderID(payload.OrderID),
		eventType,
		payload,
		outgoing,
	)
	if err != nil {
		return err
	}
	if err := outbox.Append(ctx, event); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("event_type", string(eventType)).
		Int64("order_id", payload.OrderID).
		Str("event_id", event.EventID).
		Msg("[Saga] Created outbox event")
	return nil
}

type reservationFailure struct {
	productID int64
	reason    string
	required  int
	available int
}
