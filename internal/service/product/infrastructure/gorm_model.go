// internal/service/product/infrastructure/gorm_model.go
package infrastructure

import (
	"time"
)

// ProductModel 对应数据库中的 products 表
type ProductModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	SellerAdminID  int64  `gorm:"column:seller_admin_id;not null"`
	Title          string `gorm:"type:varchar(255);not null"`
	Price          int64  `gorm:"not null"`
	StockAvailable int    `gorm:"column:stock_available;not null"`
	StockReserved  int    `gorm:"column:stock_reserved;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ProductModel) TableName() string {
	return "products"
}

// OutboxEventModel 对应数据库中的 outbox_event 表
type OutboxEventModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	EventID       string `gorm:"column:event_id;type:varchar(36);uniqueIndex;not null"`
	AggregateType string `gorm:"column:aggregate_type;not null"`
	AggregateID   string `gorm:"column:aggregate_id;not null;index"`
	EventType     string `gorm:"column:event_type;not null"`
	Payload       string `gorm:"type:json;not null"`
	Metadata      string `gorm:"type:json;not null"`
	Status        string `gorm:"type:varchar(20);not null;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index"`
}

// TableName 指定 GORM 应该使用的表名
func (OutboxEventModel) TableName() string {
	return "outbox_event"
}
