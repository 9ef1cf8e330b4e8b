package simnet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
)

func init() {
	_ = network.Register("mock", func(map[string]any) (network.Network, error) {
		return NewMockNetwork(nil), nil
	})
}

// Response scripts the completion of one request. Hang makes the wait time
// out immediately.
type Response struct {
	Alloc map[string]float64
	Hang  bool
}

// Responder decides the response to the attempt-th request of p.
type Responder func(p model.Participant, attempt int, amount float64) Response

// StartCall records a StartNegotiation invocation.
type StartCall struct {
	ParticipantID string
	Window        model.Window
	Amount        float64
}

// FlexCall records a PushFlexibility invocation.
type FlexCall struct {
	ParticipantID string
	Start         int64
	Min, Max      float64
}

// MockNetwork is a scriptable network that completes requests synchronously.
// It accepts the same topology payload as Network.
type MockNetwork struct {
	mu         sync.Mutex
	respond    Responder
	agents     []model.Agent
	attempts   map[string]int
	reqs       map[string]mockRequest
	results    map[string]map[string]float64
	messages   map[string]int
	reputation map[string]float64

	Starts        []StartCall
	Flex          []FlexCall
	Bootstraps    []string
	Refreshes     []string
	ShutdownCalls int

	BootstrapErr error
	RefreshErr   error
	ShutdownErr  error
}

type mockRequest struct {
	owner model.Participant
	resp  Response
}

// NewMockNetwork returns a mock answering with respond. A nil responder
// allocates nothing.
func NewMockNetwork(respond Responder) *MockNetwork {
	if respond == nil {
		respond = func(model.Participant, int, float64) Response { return Response{} }
	}
	return &MockNetwork{
		respond:    respond,
		attempts:   make(map[string]int),
		reqs:       make(map[string]mockRequest),
		results:    make(map[string]map[string]float64),
		messages:   make(map[string]int),
		reputation: make(map[string]float64),
	}
}

// SetResponder replaces the responder.
func (m *MockNetwork) SetResponder(r Responder) {
	m.mu.Lock()
	m.respond = r
	m.mu.Unlock()
}

func (m *MockNetwork) Bootstrap(_ context.Context, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bootstraps = append(m.Bootstraps, payload)
	if m.BootstrapErr != nil {
		return m.BootstrapErr
	}
	t, err := ParseTopology(payload)
	if err != nil {
		return err
	}
	m.agents = t.Participants
	return nil
}

func (m *MockNetwork) RefreshTopology(_ context.Context, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refreshes = append(m.Refreshes, payload)
	if m.RefreshErr != nil {
		return m.RefreshErr
	}
	t, err := decodeTopology(payload)
	if err != nil {
		return err
	}
	for _, a := range t.Participants {
		known := false
		for _, b := range m.agents {
			if b.AgentID == a.AgentID {
				known = true
				break
			}
		}
		if !known {
			m.agents = append(m.agents, a)
		}
	}
	return nil
}

func (m *MockNetwork) Lookup(kind string, index int) (model.Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.Element == kind && a.Position == index {
			return a, true
		}
	}
	return nil, false
}

func (m *MockNetwork) Participants() []model.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Participant, len(m.agents))
	for i, a := range m.agents {
		out[i] = a
	}
	return out
}

func (m *MockNetwork) PushFlexibility(p model.Participant, start int64, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flex = append(m.Flex, FlexCall{ParticipantID: p.ID(), Start: start, Min: min, Max: max})
	return nil
}

func (m *MockNetwork) StartNegotiation(_ context.Context, p model.Participant, w model.Window, amount float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[p.ID()]++
	attempt := m.attempts[p.ID()]
	m.Starts = append(m.Starts, StartCall{ParticipantID: p.ID(), Window: w, Amount: amount})
	m.messages[p.ID()]++
	id := fmt.Sprintf("%s/%d", p.ID(), attempt)
	m.reqs[id] = mockRequest{owner: p, resp: m.respond(p, attempt, amount)}
	return id, nil
}

func (m *MockNetwork) WaitForCompletion(_ context.Context, id string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[id]
	if !ok {
		return fmt.Errorf("%w: %s", network.ErrUnknownRequest, id)
	}
	delete(m.reqs, id)
	if req.resp.Hang {
		return network.ErrNegotiationTimeout
	}
	res := m.results[req.owner.ID()]
	if res == nil {
		res = make(map[string]float64)
		m.results[req.owner.ID()] = res
	}
	for k, v := range req.resp.Alloc {
		res[k] += v
	}
	return nil
}

func (m *MockNetwork) Result(p model.Participant) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.results[p.ID()]))
	for k, v := range m.results[p.ID()] {
		out[k] = v
	}
	return out
}

// SetResult replaces the result held for p.
func (m *MockNetwork) SetResult(p model.Participant, res map[string]float64) {
	m.mu.Lock()
	m.results[p.ID()] = res
	m.mu.Unlock()
}

func (m *MockNetwork) ClearResult(p model.Participant) {
	m.mu.Lock()
	delete(m.results, p.ID())
	m.mu.Unlock()
}

func (m *MockNetwork) MessagesSent(p model.Participant) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[p.ID()]
}

func (m *MockNetwork) ResetMessages(p model.Participant) {
	m.mu.Lock()
	delete(m.messages, p.ID())
	m.mu.Unlock()
}

func (m *MockNetwork) PublishReputation(p model.Participant, score float64) {
	m.mu.Lock()
	m.reputation[p.ID()] = score
	m.mu.Unlock()
}

// Reputation returns the last score published for id.
func (m *MockNetwork) Reputation(id string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.reputation[id]
	return v, ok
}

// Attempts returns the number of requests issued for id.
func (m *MockNetwork) Attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

func (m *MockNetwork) Shutdown(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShutdownCalls++
	return m.ShutdownErr
}

var (
	_ network.Network             = (*MockNetwork)(nil)
	_ network.ReputationPublisher = (*MockNetwork)(nil)
)
