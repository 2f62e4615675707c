// Package metrics holds the Prometheus collectors updated by the trading
// core. They are registered with the default registry in init() and served
// by the API server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	recoveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_recovery_attempts_total",
			Help: "Recovery attempts by component and status (success|failed|escalated).",
		},
		[]string{"component", "status"},
	)

	filterResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_filter_candidates_total",
			Help: "Candidates evaluated per liquidity tier, split by pass/fail.",
		},
		[]string{"underlying", "tier", "result"},
	)

	selections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_selections_total",
			Help: "Contract selection outcomes (option|shares|none|cooldown|integrity|sanity).",
		},
		[]string{"underlying", "outcome"},
	)

	cooldowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_cooldowns_total",
			Help: "Underlyings placed into cooldown, by reason.",
		},
		[]string{"reason"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_orders_total",
			Help: "Orders submitted by type (market|limit) and result (submitted|rejected|error).",
		},
		[]string{"type", "result"},
	)

	fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_fill_results_total",
			Help: "Terminal fill-poll results by status.",
		},
		[]string{"status"},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerodte_decisions_total",
			Help: "Trading pipeline outcomes per underlying (skipped|dry_run|ordered|error).",
		},
		[]string{"underlying", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(recoveryAttempts, filterResults, selections)
	prometheus.MustRegister(cooldowns, orders, fills, decisions)
}

func IncRecoveryAttempt(component, status string) {
	recoveryAttempts.WithLabelValues(component, status).Inc()
}

func AddFilterResults(underlying, tier string, passed, failed int) {
	filterResults.WithLabelValues(underlying, tier, "pass").Add(float64(passed))
	filterResults.WithLabelValues(underlying, tier, "fail").Add(float64(failed))
}

func IncSelection(underlying, outcome string) { selections.WithLabelValues(underlying, outcome).Inc() }
func IncCooldown(reason string)               { cooldowns.WithLabelValues(reason).Inc() }
func IncOrder(orderType, result string)       { orders.WithLabelValues(orderType, result).Inc() }
func IncFill(status string)                   { fills.WithLabelValues(status).Inc() }
func IncDecision(underlying, outcome string)  { decisions.WithLabelValues(underlying, outcome).Inc() }
