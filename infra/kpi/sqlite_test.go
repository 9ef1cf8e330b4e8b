package kpi

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/kilianp07/flexneg/core/kpi"
)

func TestSQLiteStoreAccumulates(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kpi.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	day := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.Add(core.Record{ParticipantID: "sgen-0", Date: day, Supplied: 2}))
	require.NoError(t, s.Add(core.Record{ParticipantID: "sgen-0", Date: day.Add(3 * time.Hour), Supplied: 1.5}))
	require.NoError(t, s.Add(core.Record{ParticipantID: "sgen-0", Date: day.AddDate(0, 0, 1), Supplied: 4}))
	require.NoError(t, s.Add(core.Record{ParticipantID: "load-0", Date: day, Received: 3.5}))

	recs, err := s.Query("sgen-0", day, day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3.5, recs[0].Supplied)
	assert.Equal(t, core.Day(day), recs[0].Date)

	recs, err = s.Query("sgen-0", day, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Query("", day, day)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "load-0", recs[0].ParticipantID)
	assert.Equal(t, -3.5, recs[0].Net())
}
