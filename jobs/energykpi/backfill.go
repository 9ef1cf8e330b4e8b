// Package energykpi turns step log records into daily energy KPIs.
package energykpi

import (
	"context"
	"sort"
	"time"

	"github.com/kilianp07/flexneg/core/kpi"
	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/steplog"
)

// FromStep derives the KPI contributions of one step. Producers supply their
// share of the final solution; consumers receive what their successful
// negotiation allocated.
func FromStep(rec steplog.LogRecord, step time.Duration) []kpi.Record {
	hours := step.Hours()
	day := kpi.Day(rec.Timestamp)
	ids := make([]string, 0, len(rec.Final))
	for id := range rec.Final {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []kpi.Record
	for _, id := range ids {
		if p := rec.Final[id]; p != 0 {
			out = append(out, kpi.Record{ParticipantID: id, Date: day, Supplied: p * hours})
		}
	}
	for _, o := range rec.Outcomes {
		if o.Outcome != "success" || o.Allocated == 0 {
			continue
		}
		out = append(out, kpi.Record{ParticipantID: o.ParticipantID, Date: day, Received: o.Allocated * hours})
	}
	return out
}

// Backfill processes historical step records and populates the store.
func Backfill(store kpi.Store, history []steplog.LogRecord, step time.Duration) error {
	for _, h := range history {
		for _, r := range FromStep(h, step) {
			if err := store.Add(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Recorder is a step log that also feeds every appended record into a KPI
// store.
type Recorder struct {
	steplog.LogStore
	kpis kpi.Store
	step time.Duration
	log  logger.Logger
}

func NewRecorder(inner steplog.LogStore, kpis kpi.Store, step time.Duration, log logger.Logger) *Recorder {
	return &Recorder{LogStore: inner, kpis: kpis, step: step, log: log}
}

// Append stores rec and updates the KPIs. A KPI failure is logged and does
// not fail the step log write.
func (r *Recorder) Append(ctx context.Context, rec steplog.LogRecord) error {
	if err := r.LogStore.Append(ctx, rec); err != nil {
		return err
	}
	if err := Backfill(r.kpis, []steplog.LogRecord{rec}, r.step); err != nil {
		r.log.Errorf("kpi update for step %d: %v", rec.Step, err)
	}
	return nil
}

// Close closes both stores.
func (r *Recorder) Close() error {
	err := r.LogStore.Close()
	if kerr := r.kpis.Close(); err == nil {
		err = kerr
	}
	return err
}
