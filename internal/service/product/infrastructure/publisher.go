// internal/service/product/infrastructure/publisher.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"nexus/internal/pkg/mq"
)

// EventPublisher 是 relay 对消息底座的出站端口。
type EventPublisher interface {
	// Publish 发布一条消息并等待 broker 确认。
	// 既没成功也没明确失败（超时）时必须返回错误，事件留在 PENDING 重试。
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// KafkaPublisher 用一个不绑定主题的 Writer 实现 EventPublisher，
// 目标主题就是事件的 aggregateType。
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: mq.NewKafkaMultiTopicWriter(brokers)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := mq.ProduceMessageToTopic(ctx, p.writer, topic, []byte(key), value); err != nil {
		return errors.Wrapf(err, "failed to publish to topic %s", topic)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
