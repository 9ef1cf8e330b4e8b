package step

import "github.com/prometheus/client_golang/prometheus"

var (
	stepsTotal      *prometheus.CounterVec
	controllerState prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Gauge) {
	steps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_steps_total",
			Help: "Steps handled by the controller, by result",
		},
		[]string{"result"},
	)
	state := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controller_state",
			Help: "Lifecycle state: 0 uninitialized, 1 active, 2 shut down",
		},
	)
	return steps, state
}

func init() {
	stepsTotal, controllerState = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers controller metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(stepsTotal, controllerState)
}

// ResetMetrics reinitializes the collectors for tests and registers them on
// reg when not nil.
func ResetMetrics(reg prometheus.Registerer) {
	stepsTotal, controllerState = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
