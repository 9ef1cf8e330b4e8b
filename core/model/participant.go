package model

import (
	"fmt"
	"time"
)

// Role tells whether a participant supplies or requests power.
type Role int

const (
	RoleUnknown Role = iota
	RoleProducer
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Grid element kinds carried in identifiers.
const (
	KindLoad      = "load"
	KindGenerator = "sgen"
)

// RoleForKind maps a grid element kind to its negotiation role.
func RoleForKind(kind string) Role {
	switch kind {
	case KindLoad:
		return RoleConsumer
	case KindGenerator:
		return RoleProducer
	default:
		return RoleUnknown
	}
}

// Participant is an autonomous agent of the negotiation network bound to a
// single grid element.
type Participant interface {
	ID() string
	Kind() string
	Index() int
	Role() Role
	// Patience is the base wait unit; negotiation waits are a multiple of it.
	Patience() time.Duration
}

// InitialReputation is implemented by participants that carry a starting
// reputation score.
type InitialReputation interface {
	InitialReputation() float64
}

// Agent is the plain Participant implementation shared by the network
// adapters. It is also the JSON shape announced by remote agents.
type Agent struct {
	AgentID    string  `json:"id" yaml:"id"`
	Element    string  `json:"kind" yaml:"kind"`
	Position   int     `json:"index" yaml:"index"`
	PatienceMS int     `json:"patience_ms,omitempty" yaml:"patience_ms,omitempty"`
	Reputation float64 `json:"reputation,omitempty" yaml:"reputation,omitempty"`
}

func (a Agent) ID() string                 { return a.AgentID }
func (a Agent) Kind() string               { return a.Element }
func (a Agent) Index() int                 { return a.Position }
func (a Agent) Role() Role                 { return RoleForKind(a.Element) }
func (a Agent) InitialReputation() float64 { return a.Reputation }

func (a Agent) Patience() time.Duration {
	return time.Duration(a.PatienceMS) * time.Millisecond
}

// Validate checks the agent can be registered.
func (a Agent) Validate() error {
	if a.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if a.Role() == RoleUnknown {
		return fmt.Errorf("agent %s: unsupported kind %q", a.AgentID, a.Element)
	}
	if a.Position < 0 {
		return fmt.Errorf("agent %s: negative index", a.AgentID)
	}
	return nil
}
