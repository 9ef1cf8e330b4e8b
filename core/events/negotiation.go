package events

import "time"

// NegotiationStarted is published for every request, initial or restarted.
type NegotiationStarted struct {
	Step          int64
	ParticipantID string
	RequestID     string
	Amount        float64
	Attempt       int
}

// NegotiationResolved is published once per request chain when it reaches a
// terminal outcome. Outcome is one of "success", "failure", "timeout" or
// "infeasible".
type NegotiationResolved struct {
	Step          int64
	ParticipantID string
	Outcome       string
	Target        float64
	Allocated     float64
	Score         float64
	Attempts      int
	Latency       time.Duration
	Err           error
}
