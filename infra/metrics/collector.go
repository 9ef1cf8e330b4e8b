package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/flexneg/core/events"
	coremetrics "github.com/kilianp07/flexneg/core/metrics"
	"github.com/kilianp07/flexneg/internal/eventbus"
)

// StartEventCollector subscribes to bus and forwards negotiation, tier and
// setpoint events to the recorders sink implements. It stops when ctx is
// canceled or the bus is closed. The returned channel is closed on exit.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				forward(sink, ev)
			}
		}
	}()
	return done
}

func forward(sink coremetrics.MetricsSink, ev eventbus.Event) {
	now := time.Now()
	switch e := ev.(type) {
	case events.NegotiationResolved:
		if r, ok := sink.(coremetrics.NegotiationRecorder); ok {
			_ = r.RecordNegotiation(coremetrics.NegotiationEvent{
				Step:          e.Step,
				ParticipantID: e.ParticipantID,
				Outcome:       e.Outcome,
				Target:        e.Target,
				Allocated:     e.Allocated,
				Score:         e.Score,
				Attempts:      e.Attempts,
				Latency:       e.Latency,
				Time:          now,
			})
		}
	case events.TierStatsFlushed:
		if r, ok := sink.(coremetrics.TierRecorder); ok {
			tiers := make([]coremetrics.TierStat, len(e.Tiers))
			for i, t := range e.Tiers {
				mean := 0.0
				if t.Samples > 0 {
					mean = t.ScoreSum / float64(t.Samples)
				}
				tiers[i] = coremetrics.TierStat{Tier: t.Tier, Mean: mean, Failures: t.Failures, Samples: t.Samples}
			}
			_ = r.RecordTiers(coremetrics.TierEvent{Step: e.Step, Tiers: tiers, Time: now})
		}
	case events.SetpointApplied:
		if r, ok := sink.(coremetrics.SetpointRecorder); ok {
			_ = r.RecordSetpoint(coremetrics.SetpointEvent{
				Step:          e.Step,
				ActuatorID:    e.ActuatorID,
				ParticipantID: e.ParticipantID,
				Setpoint:      e.Setpoint,
				Clamped:       e.Clamped,
				Time:          now,
			})
		}
	}
}
