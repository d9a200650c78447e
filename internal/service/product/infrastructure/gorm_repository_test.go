package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus/internal/service/product/domain"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func productRows(products ...*domain.Product) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "seller_admin_id", "title", "price", "stock_available", "stock_reserved", "created_at", "updated_at"})
	for _, p := range products {
		rows.AddRow(p.ID, p.SellerAdminID, p.Title, p.Price, p.StockAvailable, p.StockReserved, time.Now(), time.Now())
	}
	return rows
}

func TestGormLedgerRepository_LockAndFetch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormLedgerRepository(db)

	// 传入乱序 ID，SQL 里必须升序出现，且带 FOR UPDATE
	mock.ExpectQuery("SELECT .+ FROM `products` WHERE id IN .+ ORDER BY id ASC FOR UPDATE").
		WithArgs(int64(1), int64(2)).
		WillReturnRows(productRows(
			&domain.Product{ID: 1, Title: "a", StockAvailable: 10},
			&domain.Product{ID: 2, Title: "b", StockAvailable: 5, StockReserved: 3},
		))

	products, err := repo.LockAndFetch(context.Background(), []int64{2, 1})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, 10, products[1].StockAvailable)
	assert.Equal(t, 3, products[2].StockReserved)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// 找不到的 ID 不在结果里，也不报错：是否当失败处理由 Saga 决定。
func TestGormLedgerRepository_LockAndFetch_MissingRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormLedgerRepository(db)

	mock.ExpectQuery("SELECT .+ FROM `products` WHERE id IN .+ FOR UPDATE").
		WithArgs(int64(1), int64(404)).
		WillReturnRows(productRows(&domain.Product{ID: 1, StockAvailable: 10}))

	products, err := repo.LockAndFetch(context.Background(), []int64{1, 404})
	require.NoError(t, err)
	require.Len(t, products, 1)
	_, ok := products[404]
	assert.False(t, ok)
}

func TestGormLedgerRepository_LockAndFetch_EmptyIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormLedgerRepository(db)

	// 不发 SQL
	products, err := repo.LockAndFetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerRepository_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormLedgerRepository(db)

	// 只回写两个库存计数
	mock.ExpectExec("UPDATE `products` SET .*`stock_available`.*`stock_reserved`.* WHERE id = ?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), []*domain.Product{
		{ID: 1, StockAvailable: 60, StockReserved: 40},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOutboxRepository_Append(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormOutboxRepository(db)

	event, err := domain.NewOutboxEvent(domain.AggregateTypeStocks, "1001", domain.EventTypeStockReserved,
		&domain.SagaEventPayload{OrderID: 1001}, domain.EventMetadata{})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `outbox_event`").
		WillReturnResult(sqlmock.NewResult(7, 1))

	require.NoError(t, repo.Append(context.Background(), event))
	// 自增主键回填
	assert.Equal(t, int64(7), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOutboxRepository_ClaimPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormOutboxRepository(db)

	rows := sqlmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "metadata", "status", "created_at", "updated_at"}).
		AddRow(1, "evt-a", "stocks", "1001", "STOCK_RESERVED", "{}", "{}", "PENDING", time.Now(), time.Now()).
		AddRow(2, "evt-b", "stocks", "1002", "STOCK_RESERVE_FAILED", "{}", "{}", "PENDING", time.Now(), time.Now())

	// 最旧优先
	mock.ExpectQuery("SELECT .+ FROM `outbox_event` WHERE status = .+ ORDER BY updated_at ASC").
		WillReturnRows(rows)

	events, err := repo.ClaimPending(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-a", events[0].EventID)
	assert.Equal(t, domain.EventTypeStockReserved, events[0].EventType)
	assert.Equal(t, domain.OutboxStatusPending, events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOutboxRepository_MarkSent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormOutboxRepository(db)

	mock.ExpectExec("UPDATE `outbox_event` SET .*`status`.* WHERE event_id IN").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.MarkSent(context.Background(), []*domain.OutboxEvent{
		{EventID: "evt-a"}, {EventID: "evt-b"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOutboxRepository_MarkSent_EmptyBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormOutboxRepository(db)

	require.NoError(t, repo.MarkSent(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormOutboxRepository_FindByAggregateID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGormOutboxRepository(db)

	rows := sqlmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "metadata", "status", "created_at", "updated_at"}).
		AddRow(1, "evt-a", "stocks", "1001", "STOCK_RESERVED", "{}", "{}", "SENT", time.Now(), time.Now())

	mock.ExpectQuery("SELECT .+ FROM `outbox_event` WHERE aggregate_id = .+ ORDER BY created_at ASC").
		WithArgs("1001").
		WillReturnRows(rows)

	events, err := repo.FindByAggregateID(context.Background(), "1001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutboxStatusSent, events[0].Status)
}

// fn 报错时整个事务回滚，部分变更绝不提交。
func TestGormUnitOfWork_RollbackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	uow := NewGormUnitOfWork(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("insufficient stock")
	err := uow.Execute(context.Background(), func(ctx context.Context, ledger domain.LedgerRepository, outbox domain.OutboxRepository) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUnitOfWork_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	uow := NewGormUnitOfWork(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `outbox_event`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := uow.Execute(context.Background(), func(ctx context.Context, ledger domain.LedgerRepository, outbox domain.OutboxRepository) error {
		event, err := domain.NewOutboxEvent(domain.AggregateTypeStocks, "1001", domain.EventTypeStockReserved,
			&domain.SagaEventPayload{OrderID: 1001}, domain.EventMetadata{})
		if err != nil {
			return err
		}
		return outbox.Append(ctx, event)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
