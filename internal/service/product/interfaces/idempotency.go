// internal/service/product/interfaces/idempotency.go
package interfaces

import (
	"context"
	"time"

	"nexus/internal/pkg/logger"
)

const processedKeyPrefix = "product:events:processed:"

// Marker 是去重标记的存储接口，由 Redis 客户端实现。
type Marker interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// IdempotencyGuard 让消费处理对重复投递安全：
// 底座是至少一次投递，relay 崩溃重发、消费组再均衡都会带来重复消息。
// eventId 全局唯一，第一次见到才处理，之后直接跳过。
type IdempotencyGuard struct {
	marker Marker
	ttl    time.Duration
}

func NewIdempotencyGuard(marker Marker, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{marker: marker, ttl: ttl}
}

// FirstDelivery 判断该事件是否第一次投递，并顺带打上已处理标记。
// Redis 不可用时放行处理：处理逻辑本身对重复是防御性的（钳制、条件校验），
// 宁可重复处理也不能丢事件。
func (g *IdempotencyGuard) FirstDelivery(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	first, err := g.marker.SetNX(ctx, processedKeyPrefix+eventID, 1, g.ttl)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("idempotency marker unavailable, processing anyway")
		return true
	}
	return first
}
