package mqtt

// FlexibilityMessage publishes the feasible interval of a participant.
type FlexibilityMessage struct {
	Start int64   `json:"start"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// NegotiateMessage asks a consumer to negotiate Amount over [Start, End].
type NegotiateMessage struct {
	RequestID string  `json:"request_id"`
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
	Amount    float64 `json:"amount"`
}

// DoneMessage reports a finished negotiation. Result holds the allocation
// gained by this request only; Messages is the number of agent messages it
// caused.
type DoneMessage struct {
	RequestID string             `json:"request_id"`
	Result    map[string]float64 `json:"result"`
	Messages  int                `json:"messages"`
}

// ReputationMessage forwards an updated reputation score.
type ReputationMessage struct {
	Score float64 `json:"score"`
}
