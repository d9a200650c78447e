// internal/service/product/application/metrics.go
package application

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "product_service",
	Subsystem: "saga",
	Name:      "outcomes_total",
	Help:      "Stock saga outcomes by result (reserved, reserve_failed, confirmed, compensated).",
}, []string{"outcome"})

func formatOrderID(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
