package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Escrow lifecycle counters and histograms.

var (
	// Holds
	HoldsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "hold",
		Name:      "created_total",
		Help:      "Total escrow holds created",
	})

	HoldErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "hold",
		Name:      "errors_total",
		Help:      "Total hold creations aborted, by stage",
	}, []string{"stage"})

	// Settlements, kind is claim or refund
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "settlement",
		Name:      "total",
		Help:      "Total settlements reaching a terminal status",
	}, []string{"kind", "status"})

	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "escrowd",
		Subsystem: "settlement",
		Name:      "duration_seconds",
		Help:      "Time spent between winning the settlement and recording its outcome",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	SettlementRaceLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "settlement",
		Name:      "race_lost_total",
		Help:      "Total settlement attempts that lost the transition out of pending",
	}, []string{"kind"})

	// Sweeper
	SweepTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "sweeper",
		Name:      "ticks_total",
		Help:      "Total expiry sweep runs",
	})

	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "sweeper",
		Name:      "errors_total",
		Help:      "Total expiry sweep errors",
	})

	// Reconciler
	ReconciledTxs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "reconciler",
		Name:      "transactions_total",
		Help:      "Total transaction records finalized from chain receipts",
	}, []string{"status"})

	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "reconciler",
		Name:      "errors_total",
		Help:      "Total receipt lookups or updates that failed",
	})

	// Confirmations
	ConfirmationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "confirmation",
		Name:      "outcomes_total",
		Help:      "Total confirmation signals by outcome",
	}, []string{"outcome"})

	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "confirmation",
		Name:      "proposals_total",
		Help:      "Total operations proposed for confirmation",
	}, []string{"kind"})
)
