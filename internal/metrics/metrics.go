package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_cycles_total",
			Help: "Completed scheduler cycles by state.",
		},
		[]string{"state"},
	)

	CycleOverruns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_cycle_overruns_total",
			Help: "Cycles that took longer than the configured interval.",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_cycle_duration_seconds",
			Help:    "Wall-clock duration of a scheduler cycle.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_signals_total",
			Help: "Strategy signals by style and action.",
		},
		[]string{"style", "action"},
	)

	AdvisoryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_advisory_outcomes_total",
			Help: "Advisory filter results by outcome.",
		},
		[]string{"outcome"},
	)

	RiskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_risk_rejections_total",
			Help: "Risk gate rejections by check.",
		},
		[]string{"check"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_total",
			Help: "Orders submitted by kind and result.",
		},
		[]string{"kind", "result"},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_positions_open",
			Help: "Open positions per style.",
		},
		[]string{"style"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_equity",
			Help: "Tracked equity in USD.",
		},
	)

	MarginGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_margin_used",
			Help: "Committed margin in USD.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles, CycleOverruns, CycleDuration,
		Signals, AdvisoryOutcomes, RiskRejections, Orders,
		PositionsOpen, EquityGauge, MarginGauge,
	)
}

// ObserveCycle records one finished cycle.
func ObserveCycle(state string, d time.Duration, overrun bool) {
	Cycles.WithLabelValues(state).Inc()
	CycleDuration.Observe(d.Seconds())
	if overrun {
		CycleOverruns.Inc()
	}
}

// ObserveOrder records an order result.
func ObserveOrder(kind string, err error) {
	result := "filled"
	if err != nil {
		result = "failed"
	}
	Orders.WithLabelValues(kind, result).Inc()
}

// SetBook publishes the account gauges.
func SetBook(equity, margin float64, swing, scalp int) {
	EquityGauge.Set(equity)
	MarginGauge.Set(margin)
	PositionsOpen.WithLabelValues("swing").Set(float64(swing))
	PositionsOpen.WithLabelValues("scalp").Set(float64(scalp))
}
