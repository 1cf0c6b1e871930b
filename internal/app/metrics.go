package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_task_claims_total",
			Help: "Task claim attempts by outcome",
		},
		[]string{"outcome"},
	)

	leaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_lease_transitions_total",
			Help: "Lease transitions by target status",
		},
		[]string{"status"},
	)

	withdrawalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_withdrawals_total",
			Help: "Withdrawals by resulting status",
		},
		[]string{"status"},
	)

	sweepReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_sweep_reclaimed_leases_total",
			Help: "Leases expired by the sweeper",
		},
	)

	sweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_sweep_runs_total",
			Help: "Expiry sweep runs by result",
		},
		[]string{"result"},
	)

	referralBonusTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_referral_bonus_minor_units_total",
			Help: "Referral bonus paid, in minor currency units",
		},
	)

	notificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_notification_failures_total",
			Help: "Notifications that could not be published",
		},
		[]string{"event"},
	)
)
