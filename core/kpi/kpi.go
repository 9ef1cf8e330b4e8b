// Package kpi defines per-participant daily energy indicators derived from
// the negotiated allocations.
package kpi

import "time"

// Record aggregates the energy one participant supplied or received during a
// UTC day. Energy is the negotiated power multiplied by the step duration in
// hours, in the unit of the step log.
type Record struct {
	ParticipantID string    `json:"participant_id"`
	Date          time.Time `json:"date"`
	Supplied      float64   `json:"supplied"`
	Received      float64   `json:"received"`
}

// Net is the energy supplied minus the energy received.
func (r Record) Net() float64 { return r.Supplied - r.Received }

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Store accumulates records per participant and day.
type Store interface {
	// Add sums r into the existing record of the same participant and day.
	Add(r Record) error
	// Query returns the records of participantID between the days of start
	// and end inclusive. An empty participantID matches every participant.
	Query(participantID string, start, end time.Time) ([]Record, error)
	Close() error
}
