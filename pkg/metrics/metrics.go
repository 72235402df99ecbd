// Package metrics holds the Prometheus collectors of the execution engine.
//
//   - rebalancer_transitions_total{from,to,event}
//   - rebalancer_invalid_transitions_total{state,event}
//   - rebalancer_risk_rejections_total{code}
//   - rebalancer_submissions_total{result}
//   - rebalancer_recovery_trades_total{outcome}
//   - rebalancer_bots{state}
//
// Collectors are registered on the default registry in init() and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_transitions_total",
			Help: "Applied state transitions",
		},
		[]string{"from", "to", "event"},
	)

	InvalidTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_invalid_transitions_total",
			Help: "Events rejected by the transition table",
		},
		[]string{"state", "event"},
	)

	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_risk_rejections_total",
			Help: "Risk gate rejections by code",
		},
		[]string{"code"},
	)

	// result: submitted|reused|rejected|ambiguous
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_submissions_total",
			Help: "Trade submission attempts by result",
		},
		[]string{"result"},
	)

	RecoveryTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_recovery_trades_total",
			Help: "Trades resolved by recovery, by outcome",
		},
		[]string{"outcome"},
	)

	BotsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rebalancer_bots",
			Help: "Registered bots per state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		Transitions,
		InvalidTransitions,
		RiskRejections,
		Submissions,
		RecoveryTrades,
		BotsByState,
	)
}
