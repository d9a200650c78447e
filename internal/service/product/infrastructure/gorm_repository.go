// internal/service/product/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nexus/internal/service/product/domain"
)

// GormLedgerRepository 是 LedgerRepository 的 GORM 实现。
type GormLedgerRepository struct {
	db *gorm.DB
}

func NewGormLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// LockAndFetch 用 SELECT ... FOR UPDATE 批量加排他行锁。
// 一次 IN 查询取整批，不做逐条往返；ID 升序保证加锁顺序固定。
func (r *GormLedgerRepository) LockAndFetch(ctx context.Context, productIDs []int64) (map[int64]*domain.Product, error) {
	if len(productIDs) == 0 {
		return map[int64]*domain.Product{}, nil
	}
	ids := make([]int64, len(productIDs))
	copy(ids, productIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var models []ProductModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock and fetch products")
	}

	result := make(map[int64]*domain.Product, len(models))
	for i := range models {
		result[models[i].ID] = ToDomainProduct(&models[i])
	}
	return result, nil
}

// Save 只回写两个库存计数，其余目录字段不归本服务管。
func (r *GormLedgerRepository) Save(ctx context.Context, products []*domain.Product) error {
	for _, p := range products {
		err := r.db.WithContext(ctx).
			Model(&ProductModel{}).
			Where("id = ?", p.ID).
			Updates(map[string]interface{}{
				"stock_available": p.StockAvailable,
				"stock_reserved":  p.StockReserved,
			}).Error
		if err != nil {
			return errors.Wrapf(err, "failed to save product %d", p.ID)
		}
	}
	return nil
}

// GormOutboxRepository 是 OutboxRepository 的 GORM 实现。
type GormOutboxRepository struct {
	db *gorm.DB
}

func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

// Append 在调用方的环境事务里插入一行，绝不在这里发布。
func (r *GormOutboxRepository) Append(ctx context.Context, event *domain.OutboxEvent) error {
	model := FromDomainOutboxEvent(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrapf(err, "failed to append outbox event %s", event.EventID)
	}
	event.ID = model.ID
	return nil
}

// ClaimPending 最旧优先取一批待发布事件。
func (r *GormOutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var models []OutboxEventModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.OutboxStatusPending)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim pending outbox events")
	}

	events := make([]*domain.OutboxEvent, len(models))
	for i := range models {
		events[i] = ToDomainOutboxEvent(&models[i])
	}
	return events, nil
}

// MarkSent 批量 PENDING→SENT。状态列上只有这一处写方。
func (r *GormOutboxRepository) MarkSent(ctx context.Context, events []*domain.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	eventIDs := make([]string, len(events))
	for i, e := range events {
		eventIDs[i] = e.EventID
	}
	err := r.db.WithContext(ctx).
		Model(&OutboxEventModel{}).
		Where("event_id IN ?", eventIDs).
		Update("status", string(domain.OutboxStatusSent)).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox events sent")
	}
	return nil
}

// FindByAggregateID 审计/重放读取，按创建顺序返回。
func (r *GormOutboxRepository) FindByAggregateID(ctx context.Context, aggregateID string) ([]*domain.OutboxEvent, error) {
	var models []OutboxEventModel
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load outbox events for aggregate %s", aggregateID)
	}

	events := make([]*domain.OutboxEvent, len(models))
	for i := range models {
		events[i] = ToDomainOutboxEvent(&models[i])
	}
	return events, nil
}
