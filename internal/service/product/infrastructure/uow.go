// internal/service/product/infrastructure/uow.go
package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"nexus/internal/service/product/domain"
)

// GormUnitOfWork 用一个数据库事务承载 fn 中的全部账本变更和 outbox 写入。
// fn 返回错误（或 panic）时事务回滚，保证部分预占永远不会提交。
type GormUnitOfWork struct {
	db *gorm.DB
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

func (u *GormUnitOfWork) Execute(ctx context.Context, fn func(ctx context.Context, ledger domain.LedgerRepository, outbox domain.OutboxRepository) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormLedgerRepository(tx), NewGormOutboxRepository(tx))
	})
}
