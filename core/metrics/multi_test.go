package metrics

import "testing"

type recordSink struct {
	steps int
	tiers int
}

func (r *recordSink) RecordStep(StepResult) error {
	r.steps++
	return nil
}

func (r *recordSink) RecordTiers(TierEvent) error {
	r.tiers++
	return nil
}

type stepOnly struct{ steps int }

func (s *stepOnly) RecordStep(StepResult) error {
	s.steps++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &stepOnly{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordStep(StepResult{Step: 1}); err != nil {
		t.Fatalf("record step: %v", err)
	}
	if err := m.RecordTiers(TierEvent{}); err != nil {
		t.Fatalf("record tiers: %v", err)
	}
	if err := m.RecordSetpoint(SetpointEvent{}); err != nil {
		t.Fatalf("record setpoint: %v", err)
	}
	if s1.steps != 1 || s2.steps != 1 || s1.tiers != 1 {
		t.Fatalf("records not forwarded: %+v %+v", s1, s2)
	}
}
