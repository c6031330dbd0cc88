package inbound

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_inbound_messages_processed_total",
			Help: "Total number of inbound messages that ran the pipeline to completion",
		})
	messagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_inbound_messages_failed_total",
			Help: "Total number of inbound messages parked with a failure record",
		})
	messagesRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_inbound_messages_retried_total",
			Help: "Total number of parked messages successfully retried",
		})
	messagesRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_inbound_messages_recovered_total",
			Help: "Total number of parked messages recovered to an operator destination",
		})
	outstandingFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shuttle_inbound_outstanding_failures",
			Help: "Number of failure records currently persisted",
		})
)
