// internal/service/product/infrastructure/mapper.go
package infrastructure

import (
	"nexus/internal/service/product/domain"
)

// ToDomainProduct 把数据库模型转换为领域模型
func ToDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ID:             m.ID,
		SellerAdminID:  m.SellerAdminID,
		Title:          m.Title,
		Price:          m.Price,
		StockAvailable: m.StockAvailable,
		StockReserved:  m.StockReserved,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ToDomainOutboxEvent 把数据库模型转换为领域模型
func ToDomainOutboxEvent(m *OutboxEventModel) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            m.ID,
		EventID:       m.EventID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     domain.EventType(m.EventType),
		Payload:       m.Payload,
		Metadata:      m.Metadata,
		Status:        domain.OutboxStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// FromDomainOutboxEvent 把领域模型转换为数据库模型
func FromDomainOutboxEvent(e *domain.OutboxEvent) *OutboxEventModel {
	return &OutboxEventModel{
		ID:            e.ID,
		EventID:       e.EventID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     string(e.EventType),
		Payload:       e.Payload,
		Metadata:      e.Metadata,
		Status:        string(e.Status),
	}
}
