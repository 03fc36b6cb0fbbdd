package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	monitorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_monitor_events_total",
			Help: "Normalized events forwarded to the coordinator by ledger and type",
		}, []string{"ledger", "type"})

	monitorDuplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_monitor_duplicate_events_total",
			Help: "Events dropped by the idempotency guard by ledger and type",
		}, []string{"ledger", "type"})

	monitorPollFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_monitor_poll_failures_total",
			Help: "Transient ledger poll failures by ledger",
		}, []string{"ledger"})
)
