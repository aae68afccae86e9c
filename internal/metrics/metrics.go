// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors are package-level and registered on the default registry so
// callers just import and increment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsReceived counts signals accepted into the intake pipeline
	SignalsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alpha_signals_received_total",
		Help: "Signals received by the agent",
	})

	// SignalsRejected counts intake rejections by reason
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alpha_signals_rejected_total",
		Help: "Signals rejected at intake, by reason",
	}, []string{"reason"})

	// EntriesTriggered counts price watcher entry fires
	EntriesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alpha_entries_triggered_total",
		Help: "Entry conditions met by the price watcher",
	})

	// TradesSubmitted counts entry swaps submitted on-chain
	TradesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alpha_trades_submitted_total",
		Help: "Entry transactions submitted for signing",
	})

	// TradesFailed counts entry attempts that ended FAILED
	TradesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alpha_trades_failed_total",
		Help: "Entry attempts that failed before or at submission",
	})

	// ExitsSubmitted counts exit swaps submitted, by exit type
	ExitsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alpha_exits_submitted_total",
		Help: "Exit transactions submitted, by exit type",
	}, []string{"exit_type"})

	// BatchesExecuted counts batch runs by terminal status
	BatchesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alpha_batches_executed_total",
		Help: "Batch executor runs, by terminal status",
	}, []string{"status"})

	// BreakerTrips counts circuit breaker activations
	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alpha_circuit_breaker_trips_total",
		Help: "Daily-loss circuit breaker activations",
	})

	// ActivePriceMonitors gauges signals currently under entry watch
	ActivePriceMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alpha_active_price_monitors",
		Help: "Signals currently monitored for entry",
	})

	// ActiveExitMonitors gauges positions currently under exit watch
	ActiveExitMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alpha_active_exit_monitors",
		Help: "Positions currently monitored for exit",
	})

	// RepairActions counts consistency repairs by pass
	RepairActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alpha_repair_actions_total",
		Help: "Data consistency repairs applied, by pass",
	}, []string{"pass"})
)
