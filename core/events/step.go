package events

import "time"

// TierStat mirrors one reputation tier aggregate.
type TierStat struct {
	Tier     int
	ScoreSum float64
	Failures int
	Samples  int
}

// TierStatsFlushed carries the reputation aggregates of a step.
type TierStatsFlushed struct {
	Step  int64
	Tiers []TierStat
}

// SetpointApplied is published for each producer actuator command.
type SetpointApplied struct {
	Step          int64
	ActuatorID    string
	ParticipantID string
	Setpoint      float64
	Clamped       bool
}

// StepCompleted summarizes a finished step.
type StepCompleted struct {
	Step         int64
	Clock        int64
	Flexibility  float64
	Requested    float64
	Negotiated   float64
	MessagesSent int
	Duration     time.Duration
}
