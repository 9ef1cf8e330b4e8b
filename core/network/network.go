// Package network defines the contract between the step controller and the
// external multi-agent negotiation network.
package network

import (
	"context"
	"time"

	"github.com/kilianp07/flexneg/core/model"
)

// Network is the negotiation network driven by the controller. The network
// owns the agents and their protocol; the controller only issues requests and
// observes completions and results.
type Network interface {
	// Bootstrap creates the agents described by the topology payload.
	Bootstrap(ctx context.Context, topology string) error
	// RefreshTopology hands a new topology payload to the running agents.
	RefreshTopology(ctx context.Context, topology string) error

	Lookup(kind string, index int) (model.Participant, bool)
	Participants() []model.Participant

	// PushFlexibility publishes the feasible interval of a participant
	// starting at the given simulation time.
	PushFlexibility(p model.Participant, start int64, min, max float64) error

	// StartNegotiation asks p to negotiate amount over the window and
	// returns the request identifier used to wait for completion.
	StartNegotiation(ctx context.Context, p model.Participant, w model.Window, amount float64) (requestID string, err error)
	// WaitForCompletion blocks until the negotiation finishes or timeout
	// elapses, in which case ErrNegotiationTimeout is returned.
	WaitForCompletion(ctx context.Context, requestID string, timeout time.Duration) error

	// Result returns the accumulated allocation of p keyed by provider.
	Result(p model.Participant) map[string]float64
	ClearResult(p model.Participant)

	MessagesSent(p model.Participant) int
	ResetMessages(p model.Participant)

	Shutdown(ctx context.Context) error
}

// ReputationPublisher is implemented by networks whose negotiation priority
// depends on participant reputation.
type ReputationPublisher interface {
	PublishReputation(p model.Participant, score float64)
}

// SettingsApplier is implemented by networks whose settings can be replaced
// after construction, e.g. when they are pushed by a remote controller.
type SettingsApplier interface {
	ApplySettings(s Settings)
}
