package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swap_coordinator_orders_created_total",
			Help: "Orders originated from observed source locks",
		},
	)
	ordersCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swap_coordinator_orders_completed_total",
			Help: "Orders settled on both ledgers",
		},
	)
	ordersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_coordinator_orders_rejected_total",
			Help: "Orders cancelled by a policy gate before funds moved",
		},
		[]string{"reason"},
	)
	ordersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swap_coordinator_orders_expired_total",
			Help: "Orders swept past their deadline",
		},
	)
	destinationLocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_coordinator_destination_locks_total",
			Help: "Destination HTLC deployments confirmed submitted",
		},
		[]string{"ledger"},
	)
	secretsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_coordinator_secrets_relayed_total",
			Help: "Secret relays submitted to the opposite ledger",
		},
		[]string{"ledger"},
	)
	submissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_coordinator_submission_failures_total",
			Help: "Ledger submissions that exhausted retries or were rejected",
		},
		[]string{"ledger", "op"},
	)
	casBudgetExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swap_coordinator_cas_budget_exceeded_total",
			Help: "Transitions abandoned after losing the CAS race repeatedly",
		},
	)
	ordersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swap_coordinator_orders_active",
			Help: "Orders currently in a non-terminal status",
		},
	)
	depositAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swap_coordinator_deposit_available",
			Help: "Spendable resolver collateral per ledger and asset",
		},
		[]string{"ledger", "asset"},
	)
	depositLocked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swap_coordinator_deposit_locked",
			Help: "Resolver collateral held against live orders",
		},
		[]string{"ledger", "asset"},
	)
)
