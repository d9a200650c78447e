package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/service/product/domain"
)

type stubOutbox struct {
	events []*domain.OutboxEvent
	err    error
}

func (s *stubOutbox) Append(context.Context, *domain.OutboxEvent) error { return nil }
func (s *stubOutbox) ClaimPending(context.Context, int) ([]*domain.OutboxEvent, error) {
	return nil, nil
}
func (s *stubOutbox) MarkSent(context.Context, []*domain.OutboxEvent) error { return nil }
func (s *stubOutbox) FindByAggregateID(context.Context, string) ([]*domain.OutboxEvent, error) {
	return s.events, s.err
}

func TestStockHandler_ListOutboxEvents(t *testing.T) {
	outbox := &stubOutbox{events: []*domain.OutboxEvent{
		{
			EventID:   "evt-a",
			EventType: domain.EventTypeStockReserved,
			Status:    domain.OutboxStatusSent,
			Payload:   `{"orderId":1001}`,
			Metadata:  `{"causationId":"evt-0"}`,
			CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}}
	mux := http.NewServeMux()
	NewStockHandler(outbox).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outbox/events?orderId=1001", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		OrderID string `json:"orderId"`
		Events  []struct {
			EventID   string `json:"eventId"`
			EventType string `json:"eventType"`
			Status    string `json:"status"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1001", body.OrderID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "evt-a", body.Events[0].EventID)
	assert.Equal(t, "STOCK_RESERVED", body.Events[0].EventType)
	assert.Equal(t, "SENT", body.Events[0].Status)
}

func TestStockHandler_ListOutboxEvents_MissingOrderID(t *testing.T) {
	mux := http.NewServeMux()
	NewStockHandler(&stubOutbox{}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outbox/events", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStockHandler_ListOutboxEvents_RepositoryError(t *testing.T) {
	mux := http.NewServeMux()
	NewStockHandler(&stubOutbox{err: errors.New("db down")}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outbox/events?orderId=1001", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStockHandler_Healthz(t *testing.T) {
	mux := http.NewServeMux()
	NewStockHandler(&stubOutbox{}).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
