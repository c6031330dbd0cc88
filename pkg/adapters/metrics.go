package adapters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_adapter_transfers_dispatched_total",
			Help: "Total number of transfers handed to a bridge back-end, by adapter",
		}, []string{"adapter"})
	transfersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_adapter_transfers_rejected_total",
			Help: "Total number of transfers rejected before reaching a bridge back-end, by adapter",
		}, []string{"adapter"})
)
