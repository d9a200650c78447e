// internal/pkg/mq/kafka.go
package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// NewKafkaReader 创建一个属于指定消费组的 Reader。
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // 显式 CommitMessages，不自动提交
	})
}

// NewKafkaWriter 创建一个固定主题的 Writer。
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // 按 key 分区，保证同一聚合的消息有序
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaMultiTopicWriter 创建一个不绑定主题的 Writer，
// 目标主题由每条消息的 Topic 字段决定（outbox relay 按 aggregateType 路由时使用）。
func NewKafkaMultiTopicWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// ProduceMessage 发送一条消息，并自动把当前追踪上下文注入到消息头。
func ProduceMessage(ctx context.Context, writer *kafka.Writer, key, value []byte) error {
	msg := kafka.Message{
		Key:   key,
		Value: value,
	}
	injectTraceContext(ctx, &msg)
	return writer.WriteMessages(ctx, msg)
}

// ProduceMessageToTopic 与 ProduceMessage 相同，但目标主题由参数指定。
// 仅适用于未绑定主题的 Writer。
func ProduceMessageToTopic(ctx context.Context, writer *kafka.Writer, topic string, key, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	injectTraceContext(ctx, &msg)
	return writer.WriteMessages(ctx, msg)
}

func injectTraceContext(ctx context.Context, msg *kafka.Message) {
	carrier := KafkaHeaderCarrier(msg.Headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = carrier
}
