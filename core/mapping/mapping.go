// Package mapping binds the host's sensors and actuators to network
// participants once, at bootstrap.
package mapping

import (
	"fmt"

	"github.com/kilianp07/flexneg/core/ident"
	"github.com/kilianp07/flexneg/core/model"
)

// Resolver finds the participant bound to a grid element.
type Resolver interface {
	Lookup(kind string, index int) (model.Participant, bool)
}

// Entry binds one sensor or actuator slot to its participant. A nil
// Participant marks a slot that no participant owns.
type Entry struct {
	ID          string
	Attribute   string
	Participant model.Participant
}

// Present reports whether a participant owns the slot.
func (e Entry) Present() bool { return e.Participant != nil }

// Mapping is positionally aligned with the sensor and actuator sequences it
// was built from. It is never rebuilt after bootstrap, so participants that
// appear in a later topology stay unmapped.
type Mapping struct {
	Sensors   []Entry
	Actuators []Entry
}

// Build resolves every identifier against r.
func Build(sensorIDs, actuatorIDs []string, r Resolver) (*Mapping, error) {
	sensors, err := resolve(sensorIDs, r)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}
	actuators, err := resolve(actuatorIDs, r)
	if err != nil {
		return nil, fmt.Errorf("actuators: %w", err)
	}
	return &Mapping{Sensors: sensors, Actuators: actuators}, nil
}

func resolve(ids []string, r Resolver) ([]Entry, error) {
	out := make([]Entry, len(ids))
	for i, id := range ids {
		parsed, err := ident.Parse(id)
		if err != nil {
			return nil, err
		}
		e := Entry{ID: id, Attribute: parsed.Attribute}
		if p, ok := r.Lookup(parsed.Kind, parsed.Index); ok {
			e.Participant = p
		}
		out[i] = e
	}
	return out, nil
}

// Bound counts the entries owned by a participant.
func Bound(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Present() {
			n++
		}
	}
	return n
}
