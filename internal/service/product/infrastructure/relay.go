// internal/service/product/infrastructure/relay.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/pkg/logger"
	"nexus/internal/pkg/zookeeper"
	"nexus/internal/service/product/domain"
)

var (
	relayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "product_service",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox events by publish result.",
	}, []string{"result"})

	relayPendingBatch = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "product_service",
		Subsystem: "outbox",
		Name:      "pending_batch_size",
		Help:      "Number of pending events claimed per relay cycle.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
	})
)

// OutboxRelay 把 outbox 日志桥接到消息底座，提供至少一次投递。
//
// 单个周期内：取一批 PENDING、逐条发布、确认后标 SENT。
// 发布失败或超时的事件保持 PENDING，下个周期重试——轮询间隔就是唯一的重试机制。
// 发布确认和状态更新不是原子的，两步之间崩溃会导致重复投递，
// 消费侧必须容忍重复；这里不追求恰好一次。
type OutboxRelay struct {
	outbox    domain.OutboxRepository
	publisher EventPublisher
	tracer    trace.Tracer

	pollInterval   time.Duration
	batchSize      int
	publishTimeout time.Duration

	// leaderLock 非空时，relay 先拿到分布式锁才开始发布，
	// 保证同一时刻只有一个实例在 claim（避免双实例重复发布同一批）。
	leaderLock *zookeeper.DistributedLock
}

func NewOutboxRelay(outbox domain.OutboxRepository, publisher EventPublisher, tracer trace.Tracer,
	pollInterval time.Duration, batchSize int, publishTimeout time.Duration) *OutboxRelay {
	return &OutboxRelay{
		outbox:         outbox,
		publisher:      publisher,
		tracer:         tracer,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		publishTimeout: publishTimeout,
	}
}

// WithLeaderLock 启用单实例互斥。
func (r *OutboxRelay) WithLeaderLock(lock *zookeeper.DistributedLock) *OutboxRelay {
	r.leaderLock = lock
	return r
}

// Run 阻塞运行，直到 ctx 取消。
// 用单个 ticker 循环串行执行发布周期，周期之间天然不重叠。
func (r *OutboxRelay) Run(ctx context.Context) error {
	if r.leaderLock != nil {
		logger.Ctx(ctx).Info().Msg("outbox relay waiting for leader lock...")
		if err := r.leaderLock.Lock(5 * time.Minute); err != nil {
			return err
		}
		defer func() {
			if err := r.leaderLock.Unlock(); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to release relay leader lock")
			}
		}()
		logger.Ctx(ctx).Info().Msg("✅ outbox relay acquired leader lock")
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	logger.Ctx(ctx).Info().
		Dur("interval", r.pollInterval).
		Int("batch_size", r.batchSize).
		Msg("✅ outbox relay started")

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// cycle 执行一个发布周期。周期内的错误只记日志，依赖下一轮重试。
func (r *OutboxRelay) cycle(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "outbox.RelayCycle", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	events, err := r.outbox.ClaimPending(ctx, r.batchSize)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Msg("[Outbox] failed to claim pending events")
		return
	}
	relayPendingBatch.Observe(float64(len(events)))
	if len(events) == 0 {
		return
	}

	logger.Ctx(ctx).Info().Int("count", len(events)).Msg("[Outbox] Found pending events to publish")
	span.SetAttributes(attribute.Int("outbox.batch", len(events)))

	sent := make([]*domain.OutboxEvent, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event.Envelope())
		if err != nil {
			// 编码失败不会自愈，记错误并跳过，行留在 PENDING 供人工排查
			relayPublished.WithLabelValues("marshal_error").Inc()
			logger.Ctx(ctx).Error().Err(err).Str("event_id", event.EventID).Msg("[Outbox] failed to marshal event")
			continue
		}

		// 发布必须有界：超时视同失败，留在 PENDING 下轮重试
		pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		err = r.publisher.Publish(pubCtx, event.AggregateType, event.AggregateID, value)
		cancel()
		if err != nil {
			relayPublished.WithLabelValues("error").Inc()
			logger.Ctx(ctx).Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("topic", event.AggregateType).
				Msg("[Outbox] failed to publish event, will retry next cycle")
			continue
		}

		relayPublished.WithLabelValues("ok").Inc()
		event.MarkSent()
		sent = append(sent, event)
	}

	if len(sent) == 0 {
		return
	}
	if err := r.outbox.MarkSent(ctx, sent); err != nil {
		// 已发布但没标上 SENT：下个周期会重发，至少一次语义下可接受
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Msg("[Outbox] failed to mark events sent, duplicates possible")
		return
	}
	logger.Ctx(ctx).Info().Int("count", len(sent)).Msg("[Outbox] Successfully published events")
}
