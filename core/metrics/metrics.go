package metrics

import "time"

// StepResult summarizes one control step.
type StepResult struct {
	Step int64
	// Clock is the simulation time at the start of the step, in seconds.
	Clock int64
	// Flexibility is the total producer capacity offered, in W.
	Flexibility float64
	// Requested is the total consumer demand, in W.
	Requested float64
	// Negotiated is the total amount allocated by the negotiations, in W.
	Negotiated   float64
	MessagesSent int
	Runtime      time.Duration
	Time         time.Time
}

// MetricsSink records step summaries.
type MetricsSink interface {
	RecordStep(res StepResult) error
}

// NegotiationEvent is the terminal outcome of one consumer's request chain.
type NegotiationEvent struct {
	Step          int64
	ParticipantID string
	Outcome       string
	Target        float64
	Allocated     float64
	Score         float64
	Attempts      int
	Latency       time.Duration
	Time          time.Time
}

// NegotiationRecorder records negotiation outcomes.
type NegotiationRecorder interface {
	RecordNegotiation(ev NegotiationEvent) error
}

// TierStat is one reputation tier aggregate.
type TierStat struct {
	Tier     int
	Mean     float64
	Failures int
	Samples  int
}

// TierEvent carries the reputation aggregates of a step.
type TierEvent struct {
	Step  int64
	Tiers []TierStat
	Time  time.Time
}

// TierRecorder records reputation aggregates.
type TierRecorder interface {
	RecordTiers(ev TierEvent) error
}

// SetpointEvent is one command written to a producer actuator.
type SetpointEvent struct {
	Step          int64
	ActuatorID    string
	ParticipantID string
	Setpoint      float64
	Clamped       bool
	Time          time.Time
}

// SetpointRecorder records actuator commands.
type SetpointRecorder interface {
	RecordSetpoint(ev SetpointEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordStep(StepResult) error              { return nil }
func (NopSink) RecordNegotiation(NegotiationEvent) error { return nil }
func (NopSink) RecordTiers(TierEvent) error              { return nil }
func (NopSink) RecordSetpoint(SetpointEvent) error       { return nil }
