package energykpi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexneg/core/kpi"
	"github.com/kilianp07/flexneg/core/steplog"
	"github.com/kilianp07/flexneg/infra/logger"
)

type memKPI struct {
	mu     sync.Mutex
	recs   map[string]kpi.Record
	err    error
	closed bool
}

func (m *memKPI) Add(r kpi.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.recs == nil {
		m.recs = map[string]kpi.Record{}
	}
	cur := m.recs[r.ParticipantID]
	cur.ParticipantID = r.ParticipantID
	cur.Date = r.Date
	cur.Supplied += r.Supplied
	cur.Received += r.Received
	m.recs[r.ParticipantID] = cur
	return nil
}

func (m *memKPI) Query(string, time.Time, time.Time) ([]kpi.Record, error) { return nil, nil }
func (m *memKPI) Close() error                                             { m.closed = true; return nil }

type memLog struct{ recs []steplog.LogRecord }

func (s *memLog) Append(_ context.Context, r steplog.LogRecord) error {
	s.recs = append(s.recs, r)
	return nil
}
func (s *memLog) Query(context.Context, steplog.LogQuery) ([]steplog.LogRecord, error) {
	return s.recs, nil
}
func (s *memLog) Close() error { return nil }

func step(n int64, supplied float64, outcomes ...steplog.Outcome) steplog.LogRecord {
	return steplog.LogRecord{
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Step:      n,
		Final:     map[string]float64{"sgen-0": supplied, "sgen-1": 0},
		Outcomes:  outcomes,
	}
}

func TestFromStep(t *testing.T) {
	rec := step(1, 8,
		steplog.Outcome{ParticipantID: "load-0", Outcome: "success", Allocated: 3},
		steplog.Outcome{ParticipantID: "load-1", Outcome: "success", Allocated: 5},
		steplog.Outcome{ParticipantID: "load-2", Outcome: "timeout", Allocated: 0},
	)
	got := FromStep(rec, 15*time.Minute)
	require.Len(t, got, 3)
	assert.Equal(t, kpi.Record{ParticipantID: "sgen-0", Date: kpi.Day(rec.Timestamp), Supplied: 2}, got[0])
	assert.Equal(t, 0.75, got[1].Received)
	assert.Equal(t, 1.25, got[2].Received)
}

func TestBackfill(t *testing.T) {
	store := &memKPI{}
	history := []steplog.LogRecord{
		step(1, 4, steplog.Outcome{ParticipantID: "load-0", Outcome: "success", Allocated: 4}),
		step(2, 2, steplog.Outcome{ParticipantID: "load-0", Outcome: "success", Allocated: 2}),
	}
	require.NoError(t, Backfill(store, history, time.Hour))
	assert.Equal(t, 6.0, store.recs["sgen-0"].Supplied)
	assert.Equal(t, 6.0, store.recs["load-0"].Received)
	assert.Equal(t, -6.0, store.recs["load-0"].Net())
}

func TestRecorderKeepsLoggingOnKPIFailure(t *testing.T) {
	inner := &memLog{}
	kpis := &memKPI{err: errors.New("disk full")}
	r := NewRecorder(inner, kpis, time.Hour, logger.NopLogger{})

	require.NoError(t, r.Append(context.Background(), step(1, 1)))
	assert.Len(t, inner.recs, 1)

	kpis.err = nil
	require.NoError(t, r.Append(context.Background(), step(2, 1)))
	assert.Equal(t, 1.0, kpis.recs["sgen-0"].Supplied)

	require.NoError(t, r.Close())
	assert.True(t, kpis.closed)
}
