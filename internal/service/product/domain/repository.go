// internal/service/product/domain/repository.go
package domain

import "context"

// LedgerRepository 是库存账本的持久化接口。
// 它位于领域层，但由基础设施层实现。
type LedgerRepository interface {
	// LockAndFetch 按升序对给定商品加排他行锁并取回，
	// 锁在调用方事务提交前一直持有。找不到的 ID 不出现在结果里。
	LockAndFetch(ctx context.Context, productIDs []int64) (map[int64]*Product, error)

	// Save 持久化被修改过的账本行。
	Save(ctx context.Context, products []*Product) error
}

// OutboxRepository 是事务性发件箱的持久化接口。
type OutboxRepository interface {
	// Append 在调用方的环境事务里写入一行。Append 永远不发布。
	Append(ctx context.Context, event *OutboxEvent) error

	// ClaimPending 读取最多 limit 条 PENDING 行，按 updated_at 升序（最旧优先）。
	ClaimPending(ctx context.Context, limit int) ([]*OutboxEvent, error)

	// MarkSent 批量把状态从 PENDING 迁移到 SENT。
	MarkSent(ctx context.Context, events []*OutboxEvent) error

	// FindByAggregateID 按聚合 ID 读取全部事件，用于审计/重放。
	FindByAggregateID(ctx context.Context, aggregateID string) ([]*OutboxEvent, error)
}

// UnitOfWork 把账本变更和 outbox 写入圈进同一个本地事务。
// fn 返回错误时整个事务回滚，部分变更绝不提交。
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(ctx context.Context, ledger LedgerRepository, outbox OutboxRepository) error) error
}
