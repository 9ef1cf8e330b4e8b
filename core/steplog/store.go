// Package steplog persists one record per control step and serves filtered
// queries over them.
package steplog

import (
	"context"
	"time"
)

// LogRecord captures one step: the round's outcomes and the setpoints it
// produced.
type LogRecord struct {
	Timestamp    time.Time          `json:"timestamp"`
	Step         int64              `json:"step"`
	Clock        int64              `json:"clock"`
	Flexibility  float64            `json:"flexibility"`
	Requested    float64            `json:"requested"`
	Negotiated   float64            `json:"negotiated"`
	MessagesSent int                `json:"messages_sent"`
	RuntimeMS    int64              `json:"runtime_ms"`
	Restarts     int                `json:"restarts"`
	Targets      map[string]float64 `json:"targets,omitempty"`
	Capacities   map[string]float64 `json:"capacities,omitempty"`
	Final        map[string]float64 `json:"final_solution,omitempty"`
	Outcomes     []Outcome          `json:"outcomes"`
	Setpoints    map[string]float64 `json:"setpoints"`
	Tiers        []TierStat         `json:"tiers,omitempty"`
}

// TierStat mirrors the per-tier reputation aggregate of the step.
type TierStat struct {
	Tier     int     `json:"tier"`
	Mean     float64 `json:"mean"`
	Failures int     `json:"failures"`
	Samples  int     `json:"samples"`
}

// Outcome mirrors a terminal negotiation outcome for logging purposes.
type Outcome struct {
	ParticipantID string  `json:"participant_id"`
	Outcome       string  `json:"outcome"`
	Target        float64 `json:"target"`
	Allocated     float64 `json:"allocated"`
	Score         float64 `json:"score"`
	Attempts      int     `json:"attempts"`
	Error         string  `json:"error,omitempty"`
}

// LogQuery defines filters for retrieving records. Zero values disable a
// filter.
type LogQuery struct {
	Start         time.Time
	End           time.Time
	FromStep      int64
	ToStep        int64
	ParticipantID string
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// Matches reports whether r passes every filter of q.
func (q LogQuery) Matches(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.FromStep != 0 && r.Step < q.FromStep {
		return false
	}
	if q.ToStep != 0 && r.Step > q.ToStep {
		return false
	}
	return q.ParticipantID == "" || r.involves(q.ParticipantID)
}

func (r LogRecord) involves(id string) bool {
	for _, o := range r.Outcomes {
		if o.ParticipantID == id {
			return true
		}
	}
	if _, ok := r.Setpoints[id]; ok {
		return true
	}
	_, ok := r.Final[id]
	return ok
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, LogRecord) error              { return nil }
func (NopStore) Query(context.Context, LogQuery) ([]LogRecord, error) { return nil, nil }
func (NopStore) Close() error                                         { return nil }
