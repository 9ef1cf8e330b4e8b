// Package solution folds the consumers' negotiation results into the step's
// final solution and projects it onto producer actuators.
package solution

import (
	"errors"
	"fmt"

	"github.com/kilianp07/flexneg/core/ident"
	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/mapping"
	"github.com/kilianp07/flexneg/core/model"
)

// ErrOverflowSetpoint reports an allocation above a producer's capacity.
var ErrOverflowSetpoint = errors.New("setpoint overflow")

// ResultSource exposes the per-consumer allocations held by the network.
type ResultSource interface {
	Result(p model.Participant) map[string]float64
	ClearResult(p model.Participant)
}

// Aggregate sums the allocations of all consumers per provider and clears
// every consumer's result.
func Aggregate(src ResultSource, consumers []model.Participant) map[string]float64 {
	final := make(map[string]float64)
	for _, c := range consumers {
		for provider, amount := range src.Result(c) {
			final[provider] += amount
		}
		src.ClearResult(c)
	}
	return final
}

// Total returns the summed allocation of a final solution.
func Total(final map[string]float64) float64 {
	var sum float64
	for _, v := range final {
		sum += v
	}
	return sum
}

// Projection is the command applied to one actuator.
type Projection struct {
	ActuatorID    string
	ParticipantID string
	Setpoint      float64
	Clamped       bool
}

// Project sets every producer-bound scaling actuator to its share of
// capacity. entries must be aligned with actuators. Producers without
// capacity or allocation receive 0; shares above 1 are clamped.
func Project(actuators []model.Actuator, entries []mapping.Entry, final, capacity map[string]float64, log logger.Logger) []Projection {
	n := len(actuators)
	if len(entries) < n {
		n = len(entries)
	}
	out := make([]Projection, 0, n)
	for i := 0; i < n; i++ {
		e := entries[i]
		if !e.Present() || e.Attribute != ident.AttrScaling || e.Participant.Role() != model.RoleProducer {
			continue
		}
		id := e.Participant.ID()
		p := Projection{ActuatorID: actuators[i].ActuatorID(), ParticipantID: id}
		alloc, ok := final[id]
		if c := capacity[id]; c > 0 && ok {
			p.Setpoint = alloc / c
			if p.Setpoint > 1 {
				log.Errorf("%v", fmt.Errorf("%w: %s allocated %.3f of %.3f", ErrOverflowSetpoint, id, alloc, c))
				p.Setpoint = 1
				p.Clamped = true
			}
		}
		actuators[i].Set(p.Setpoint)
		out = append(out, p)
	}
	return out
}
