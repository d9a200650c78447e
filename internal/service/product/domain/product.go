// internal/service/product/domain/product.go
package domain

import (
	"errors"
	"time"
)

var (
	// ErrProductNotFound 表示账本中不存在该商品
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock 表示可用库存不足，属于业务结果而非系统异常
	ErrInsufficientStock = errors.New("insufficient stock available")
)

// Product 是库存账本的一行：可售库存 + 预占库存。
// 两个计数永远 >= 0；预占/释放只在两者之间移动数量，总和不变。
// 只有 Saga 在持有行锁的事务内才能修改这两个字段。
type Product struct {
	ID             int64
	SellerAdminID  int64
	Title          string
	Price          int64
	StockAvailable int
	StockReserved  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanReserve 判断可用库存是否足够。
func (p *Product) CanReserve(quantity int) bool {
	return p.StockAvailable >= quantity
}

// Reserve 把 quantity 件从可售移入预占。
// 调用前必须先通过 CanReserve 校验；这里再防御一次，保证计数不会变负。
func (p *Product) Reserve(quantity int) error {
	if !p.CanReserve(quantity) {
		return ErrInsufficientStock
	}
	p.StockAvailable -= quantity
	p.StockReserved += quantity
	p.UpdatedAt = time.Now()
	return nil
}

// ConfirmReservation 在支付成功后核销预占：预占数量被永久消耗，
// 可售库存不变。返回值表示核销前的预占量是否已经低于应核销量（账目漂移）。
func (p *Product) ConfirmReservation(quantity int) (drifted bool) {
	drifted = p.StockReserved < quantity
	p.StockReserved -= quantity
	if p.StockReserved < 0 {
		p.StockReserved = 0
	}
	p.UpdatedAt = time.Now()
	return drifted
}

// ReleaseReservation 在支付失败后把预占退回可售。
// 退回量取 min(quantity, 当前预占)，宁可少退也不让预占变负。
// 返回实际退回的数量。
func (p *Product) ReleaseReservation(quantity int) int {
	returned := quantity
	if p.StockReserved < returned {
		returned = p.StockReserved
	}
	p.StockReserved -= returned
	p.StockAvailable += returned
	p.UpdatedAt = time.Now()
	return returned
}
