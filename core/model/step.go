package model

// Reading is one sensor value delivered by the host for the current step.
// Text carries the serialized topology for the topology sensor; an empty Text
// on that sensor means the topology is unchanged.
type Reading struct {
	ID    string
	Value float64
	Text  string
}

// Actuator receives a normalized command in [0, 1].
type Actuator interface {
	ActuatorID() string
	Set(v float64)
}

// Slot is a minimal Actuator holding the last command it received.
type Slot struct {
	ID       string
	Setpoint float64
	Applied  bool
}

func (s *Slot) ActuatorID() string { return s.ID }

func (s *Slot) Set(v float64) {
	s.Setpoint = v
	s.Applied = true
}

// Window is the time interval a negotiation covers, in simulation seconds.
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}
