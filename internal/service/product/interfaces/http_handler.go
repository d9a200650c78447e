// internal/service/product/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexus/internal/pkg/logger"
	"nexus/internal/service/product/domain"
)

// StockHandler 暴露运维用的 HTTP 端点：健康检查、指标，
// 以及按订单读取 outbox 事件的审计接口（outbox 行永不删除，天然可回放）。
type StockHandler struct {
	outbox domain.OutboxRepository
}

func NewStockHandler(outbox domain.OutboxRepository) *StockHandler {
	return &StockHandler{outbox: outbox}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *StockHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/outbox/events", h.listOutboxEvents)
}

func (h *StockHandler) listOutboxEvents(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId query parameter is required", http.StatusBadRequest)
		return
	}

	events, err := h.outbox.FindByAggregateID(r.Context(), orderID)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Str("order_id", orderID).Msg("failed to load outbox events")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type eventView struct {
		EventID   string `json:"eventId"`
		EventType string `json:"eventType"`
		Status    string `json:"status"`
		Payload   string `json:"payload"`
		Metadata  string `json:"metadata"`
		CreatedAt string `json:"createdAt"`
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventView{
			EventID:   e.EventID,
			EventType: string(e.EventType),
			Status:    string(e.Status),
			Payload:   e.Payload,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"orderId": orderID,
		"events":  views,
	})
}
