package outbound

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_outbound_transfers_sent_total",
			Help: "Total number of transfers built and handed to the transport",
		})
	transfersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_outbound_transfers_rejected_total",
			Help: "Total number of transfer requests rejected, by reason",
		}, []string{"reason"})
)
