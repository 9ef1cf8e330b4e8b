package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/flexneg/core/metrics"
)

// PromSink exposes step summaries, reputation tiers and setpoints as
// Prometheus metrics.
type PromSink struct {
	flexibility prometheus.Gauge
	requested   prometheus.Gauge
	negotiated  prometheus.Gauge
	messages    prometheus.Counter
	duration    prometheus.Histogram
	tierMean    *prometheus.GaugeVec
	tierFail    *prometheus.GaugeVec
	setpoint    *prometheus.GaugeVec
	outcomes    *prometheus.CounterVec
}

// NewPromSink registers the sink collectors on the default registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the collectors on reg, reusing collectors
// already registered by a previous sink. A nil reg defaults to the global
// registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		s   PromSink
		err error
	)
	if s.flexibility, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flexneg_step_flexibility_watts",
		Help: "Producer flexibility offered during the last step",
	})); err != nil {
		return nil, err
	}
	if s.requested, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flexneg_step_requested_watts",
		Help: "Consumer demand during the last step",
	})); err != nil {
		return nil, err
	}
	if s.negotiated, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flexneg_step_negotiated_watts",
		Help: "Amount allocated by the negotiations of the last step",
	})); err != nil {
		return nil, err
	}
	if s.messages, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flexneg_messages_sent_total",
		Help: "Messages exchanged by the agent network",
	})); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flexneg_step_duration_seconds",
		Help:    "Wall clock duration of a control step",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})); err != nil {
		return nil, err
	}
	if s.tierMean, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flexneg_reputation_tier_mean",
		Help: "Mean reputation recorded per tier during the last step",
	}, []string{"tier"})); err != nil {
		return nil, err
	}
	if s.tierFail, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flexneg_reputation_tier_failures",
		Help: "Failed negotiations per tier during the last step",
	}, []string{"tier"})); err != nil {
		return nil, err
	}
	if s.setpoint, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flexneg_actuator_setpoint",
		Help: "Last normalized command written to a producer actuator",
	}, []string{"actuator_id"})); err != nil {
		return nil, err
	}
	if s.outcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flexneg_participant_outcomes_total",
		Help: "Terminal negotiation outcomes per participant",
	}, []string{"participant_id", "outcome"})); err != nil {
		return nil, err
	}
	return &s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordStep updates the step gauges and counters.
func (s *PromSink) RecordStep(res coremetrics.StepResult) error {
	s.flexibility.Set(res.Flexibility)
	s.requested.Set(res.Requested)
	s.negotiated.Set(res.Negotiated)
	s.messages.Add(float64(res.MessagesSent))
	s.duration.Observe(res.Runtime.Seconds())
	return nil
}

// RecordTiers sets the per-tier gauges.
func (s *PromSink) RecordTiers(ev coremetrics.TierEvent) error {
	for _, t := range ev.Tiers {
		label := strconv.Itoa(t.Tier)
		s.tierMean.WithLabelValues(label).Set(t.Mean)
		s.tierFail.WithLabelValues(label).Set(float64(t.Failures))
	}
	return nil
}

// RecordSetpoint sets the actuator gauge.
func (s *PromSink) RecordSetpoint(ev coremetrics.SetpointEvent) error {
	s.setpoint.WithLabelValues(ev.ActuatorID).Set(ev.Setpoint)
	return nil
}

// RecordNegotiation counts the outcome for the participant.
func (s *PromSink) RecordNegotiation(ev coremetrics.NegotiationEvent) error {
	s.outcomes.WithLabelValues(ev.ParticipantID, ev.Outcome).Inc()
	return nil
}
