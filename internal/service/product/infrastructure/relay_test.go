package infrastructure

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"nexus/internal/service/product/domain"
)

// memOutbox 是内存版 OutboxRepository，按追加顺序当作 updated_at 顺序。
type memOutbox struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func (m *memOutbox) Append(_ context.Context, event *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memOutbox) ClaimPending(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*domain.OutboxEvent
	for _, e := range m.events {
		if e.Status != domain.OutboxStatusPending {
			continue
		}
		cp := *e
		pending = append(pending, &cp)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (m *memOutbox) MarkSent(_ context.Context, events []*domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sent := make(map[string]struct{}, len(events))
	for _, e := range events {
		sent[e.EventID] = struct{}{}
	}
	for _, e := range m.events {
		if _, ok := sent[e.EventID]; ok {
			e.Status = domain.OutboxStatusSent
		}
	}
	return nil
}

func (m *memOutbox) FindByAggregateID(_ context.Context, aggregateID string) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.OutboxEvent
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *memOutbox) statusOf(eventID string) domain.OutboxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EventID == eventID {
			return e.Status
		}
	}
	return ""
}

type publishedMessage struct {
	topic string
	key   string
	value []byte
}

// fakePublisher 记录每次发布；failTopics 中的主题永远失败。
type fakePublisher struct {
	mu         sync.Mutex
	published  []publishedMessage
	failTopics map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failTopics[topic] {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedMessage{topic: topic, key: key, value: value})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newPendingEvent(t *testing.T, orderID string, eventType domain.EventType) *domain.OutboxEvent {
	t.Helper()
	event, err := domain.NewOutboxEvent(domain.AggregateTypeStocks, orderID, eventType,
		&domain.SagaEventPayload{OrderID: 1001}, domain.EventMetadata{CausationID: "evt-0"})
	require.NoError(t, err)
	return event
}

func newTestRelay(outbox domain.OutboxRepository, publisher EventPublisher) *OutboxRelay {
	return NewOutboxRelay(outbox, publisher, otel.Tracer("relay-test"), 10*time.Millisecond, 100, time.Second)
}

func TestRelayCycle_PublishesAndMarksSent(t *testing.T) {
	outbox := &memOutbox{}
	e1 := newPendingEvent(t, "1001", domain.EventTypeStockReserved)
	e2 := newPendingEvent(t, "1002", domain.EventTypeStockReserveFailed)
	require.NoError(t, outbox.Append(context.Background(), e1))
	require.NoError(t, outbox.Append(context.Background(), e2))

	publisher := &fakePublisher{}
	newTestRelay(outbox, publisher).cycle(context.Background())

	require.Equal(t, 2, publisher.count())
	// 主题 = aggregateType，分区键 = aggregateID
	assert.Equal(t, "stocks", publisher.published[0].topic)
	assert.Equal(t, "1001", publisher.published[0].key)

	// 消息体是统一信封，eventId 原样携带
	env, err := domain.DecodeEnvelope(publisher.published[0].value)
	require.NoError(t, err)
	assert.Equal(t, e1.EventID, env.EventID)
	assert.Equal(t, "STOCK_RESERVED", env.EventType)

	assert.Equal(t, domain.OutboxStatusSent, outbox.statusOf(e1.EventID))
	assert.Equal(t, domain.OutboxStatusSent, outbox.statusOf(e2.EventID))
}

// 发布失败的事件保持 PENDING，恢复后的下一个周期补发。
func TestRelayCycle_FailedPublishStaysPending(t *testing.T) {
	outbox := &memOutbox{}
	event := newPendingEvent(t, "1001", domain.EventTypeStockReserved)
	require.NoError(t, outbox.Append(context.Background(), event))

	publisher := &fakePublisher{failTopics: map[string]bool{"stocks": true}}
	relay := newTestRelay(outbox, publisher)

	relay.cycle(context.Background())
	assert.Equal(t, 0, publisher.count())
	assert.Equal(t, domain.OutboxStatusPending, outbox.statusOf(event.EventID))

	// broker 恢复
	publisher.failTopics = nil
	relay.cycle(context.Background())
	assert.Equal(t, 1, publisher.count())
	assert.Equal(t, domain.OutboxStatusSent, outbox.statusOf(event.EventID))
}

// 标记 SENT 失败（发布和标记之间崩溃的等价情形）：
// 事件会被重发，体现至少一次语义。
func TestRelayCycle_MarkSentFailure_Redelivers(t *testing.T) {
	outbox := &failingMarkOutbox{memOutbox: &memOutbox{}, failures: 1}
	event := newPendingEvent(t, "1001", domain.EventTypeStockReserved)
	require.NoError(t, outbox.Append(context.Background(), event))

	publisher := &fakePublisher{}
	relay := newTestRelay(outbox, publisher)

	relay.cycle(context.Background())
	require.Equal(t, 1, publisher.count())
	assert.Equal(t, domain.OutboxStatusPending, outbox.statusOf(event.EventID))

	relay.cycle(context.Background())
	// 同一事件发布了两次：消费侧用 eventId 去重
	assert.Equal(t, 2, publisher.count())
	assert.Equal(t, domain.OutboxStatusSent, outbox.statusOf(event.EventID))
}

func TestRelayCycle_EmptyBacklogIsNoop(t *testing.T) {
	outbox := &memOutbox{}
	publisher := &fakePublisher{}
	newTestRelay(outbox, publisher).cycle(context.Background())
	assert.Zero(t, publisher.count())
}

func TestRelayRun_StopsOnContextCancel(t *testing.T) {
	outbox := &memOutbox{}
	event := newPendingEvent(t, "1001", domain.EventTypeStockReserved)
	require.NoError(t, outbox.Append(context.Background(), event))

	publisher := &fakePublisher{}
	relay := newTestRelay(outbox, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// 等第一个事件跑完整个 发布→标记 的闭环
	require.Eventually(t, func() bool {
		return outbox.statusOf(event.EventID) == domain.OutboxStatusSent
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after context cancellation")
	}
}

type failingMarkOutbox struct {
	*memOutbox
	failures int
}

func (f *failingMarkOutbox) MarkSent(ctx context.Context, events []*domain.OutboxEvent) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection lost")
	}
	return f.memOutbox.MarkSent(ctx, events)
}
