package metrics

// MultiSink fans records out to several sinks. Optional recorders are
// forwarded only to the sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordStep forwards the step summary, returning the first error encountered.
func (m *MultiSink) RecordStep(res StepResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordStep(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordNegotiation forwards negotiation outcomes.
func (m *MultiSink) RecordNegotiation(ev NegotiationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(NegotiationRecorder); ok {
			if err := rec.RecordNegotiation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTiers forwards reputation aggregates.
func (m *MultiSink) RecordTiers(ev TierEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TierRecorder); ok {
			if err := rec.RecordTiers(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSetpoint forwards actuator commands.
func (m *MultiSink) RecordSetpoint(ev SetpointEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SetpointRecorder); ok {
			if err := rec.RecordSetpoint(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
