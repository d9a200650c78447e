// internal/service/product/interfaces/consumer.go
package interfaces

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nexus/internal/pkg/logger"
	"nexus/internal/pkg/mq"
	"nexus/internal/service/product/domain"
)

// messageHandler 处理一条已经带上追踪上下文的消息。
// 返回错误只用于记日志：offset 总是提交，重试交给上游重发。
type messageHandler func(ctx context.Context, msg kafka.Message)

// consumerLoop 是两个消费适配器共用的读取循环。
// 用 FetchMessage + 显式 CommitMessages，退出逻辑可控。
type consumerLoop struct {
	reader  *kafka.Reader
	handle  messageHandler
	wg      sync.WaitGroup
	stopped bool
}

// Run 阻塞消费，直到 ctx 取消。
func (l *consumerLoop) Run(ctx context.Context) error {
	l.wg.Add(1)
	defer l.wg.Done()

	logger.Ctx(ctx).Info().Str("topic", l.reader.Config().Topic).Msg("✅ Kafka consumer adapter started")
	for {
		if l.stopped {
			return nil
		}
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			// 上下文取消导致的错误属于正常退出
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Str("topic", l.reader.Config().Topic).Msg("🛑 Kafka consumer adapter shutting down")
				return ctx.Err()
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying...")
			time.Sleep(time.Second) // 避免快速失败循环
			continue
		}

		// 重建追踪上下文后交给处理器
		propagator := otel.GetTextMapPropagator()
		carrier := mq.KafkaHeaderCarrier(msg.Headers)
		msgCtx := propagator.Extract(ctx, &carrier)
		l.handle(msgCtx, msg)

		// 处理结果如何都提交 offset；失败消息依赖日志与上游重发，不在这一层重试
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
		}
	}
}

// Stop 优雅地停止消费者。
func (l *consumerLoop) Stop(ctx context.Context) {
	l.stopped = true
	l.reader.Close()
	l.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Kafka consumer adapter stopped")
}

// spanFromMetadata 基于事件自带的因果元数据开启处理 Span。
// traceId/causationId 能解析成合法的 OTel 标识时挂到该父链路上；
// 否则退回 ctx 里已有的上下文（消息头传播的，或全新的根）。
func spanFromMetadata(ctx context.Context, tracer trace.Tracer, meta domain.EventMetadata, spanName string) (context.Context, trace.Span) {
	if parent, ok := remoteParentFromMetadata(meta); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, parent)
	}
	return tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindConsumer))
}

func remoteParentFromMetadata(meta domain.EventMetadata) (trace.SpanContext, bool) {
	traceID, err := trace.TraceIDFromHex(meta.TraceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	// causationId 通常是 UUID；去掉连字符后取前 16 个十六进制字符作为父 spanId
	causation := strings.ReplaceAll(meta.CausationID, "-", "")
	if len(causation) < 16 {
		return trace.SpanContext{}, false
	}
	if _, err := hex.DecodeString(causation[:16]); err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(causation[:16])
	if err != nil {
		return trace.SpanContext{}, false
	}

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
		Remote:  true,
	}), true
}
