package negotiation

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal   *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	waitSeconds     *prometheus.HistogramVec
	budgetRemaining prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge) {
	req := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_requests_total",
			Help: "Negotiation requests issued, by kind (initial or restart)",
		},
		[]string{"kind"},
	)
	out := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_outcomes_total",
			Help: "Terminal negotiation outcomes",
		},
		[]string{"outcome"},
	)
	wait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "negotiation_wait_seconds",
			Help:    "Time spent waiting for a negotiation to complete",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"outcome"},
	)
	budget := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "negotiation_restart_budget_remaining",
			Help: "Restart budget left at the end of the last round",
		},
	)
	return req, out, wait, budget
}

func init() {
	requestsTotal, outcomesTotal, waitSeconds, budgetRemaining = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers negotiation metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requestsTotal, outcomesTotal, waitSeconds, budgetRemaining)
}

// ResetMetrics reinitializes the collectors for tests and registers them on
// reg when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	requestsTotal, outcomesTotal, waitSeconds, budgetRemaining = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
