package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/flexneg/core/factory"
	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
	infralogger "github.com/kilianp07/flexneg/infra/logger"
)

func init() {
	_ = network.Register("mqtt", func(conf map[string]any) (network.Network, error) {
		s, err := network.DecodeSettings(conf)
		if err != nil {
			return nil, err
		}
		var cfg Config
		if err := factory.Decode(conf, &cfg); err != nil {
			return nil, err
		}
		return NewNetwork(cfg, s, infralogger.New("mqtt"))
	})
}

type key struct {
	kind  string
	index int
}

// Network drives remote agents over MQTT. The agent population is learnt
// through discovery when the topology is bootstrapped.
type Network struct {
	cfg      Config
	settings network.Settings
	topics   Topics
	log      logger.Logger
	conn     *conn

	mu        sync.Mutex
	agents    map[string]model.Agent
	order     []string
	byKey     map[key]string
	announced []model.Agent
	pending   map[string]chan struct{}
	owners    map[string]string
	results   map[string]map[string]float64
	messages  map[string]int
	closed    bool
}

// NewNetwork connects to the broker and subscribes to completions.
func NewNetwork(cfg Config, s network.Settings, log logger.Logger) (*Network, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.SetDefaults()
	n := &Network{
		cfg:      cfg,
		settings: s,
		topics:   Topics{Prefix: cfg.Prefix},
		log:      log,
		agents:   make(map[string]model.Agent),
		byKey:    make(map[key]string),
		pending:  make(map[string]chan struct{}),
		owners:   make(map[string]string),
		results:  make(map[string]map[string]float64),
		messages: make(map[string]int),
	}
	c, err := dial(cfg, log, func(c *conn) {
		_ = c.subscribe(KindDone, n.topics.AllAgents(KindDone), n.onDone)
	})
	if err != nil {
		return nil, err
	}
	n.conn = c
	return n, nil
}

// Bootstrap publishes the retained settings and topology, then discovers
// the agents that answer the discovery broadcast within the discovery window.
func (n *Network) Bootstrap(ctx context.Context, topology string) error {
	if err := n.conn.publish(KindSettings, n.topics.Settings(), true, n.settings); err != nil {
		return err
	}
	if err := n.conn.publish(KindTopology, n.topics.Topology(), true, topology); err != nil {
		return err
	}
	agents, err := n.discover(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return fmt.Errorf("no agent answered discovery on %s", n.topics.Discovery())
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, a := range agents {
		if a.PatienceMS == 0 {
			a.PatienceMS = int(n.settings.PatienceSeconds * 1000)
		}
		if _, ok := n.agents[a.AgentID]; !ok {
			n.order = append(n.order, a.AgentID)
		}
		n.agents[a.AgentID] = a
		n.byKey[key{a.Element, a.Position}] = a.AgentID
	}
	n.log.Infof("discovered %d agents", len(agents))
	return nil
}

func (n *Network) discover(ctx context.Context) ([]model.Agent, error) {
	n.mu.Lock()
	n.announced = nil
	n.mu.Unlock()
	if err := n.conn.subscribe(KindAnnounce, n.topics.Announcements(), n.onAnnounce); err != nil {
		return nil, err
	}
	defer n.conn.unsubscribe(n.topics.Announcements())
	if err := n.conn.publish(KindDiscovery, n.topics.Discovery(), false, n.cfg.MagicWord); err != nil {
		return nil, err
	}

	timer := time.NewTimer(n.cfg.discoveryWindow())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	seen := make(map[string]bool, len(n.announced))
	var out []model.Agent
	for _, a := range n.announced {
		if seen[a.AgentID] {
			continue
		}
		seen[a.AgentID] = true
		out = append(out, a)
	}
	n.announced = nil
	return out, nil
}

func (n *Network) onAnnounce(_ paho.Client, m paho.Message) {
	var a model.Agent
	if err := json.Unmarshal(m.Payload(), &a); err != nil {
		n.log.Errorf("invalid announcement on %s: %v", m.Topic(), err)
		return
	}
	if a.AgentID == "" {
		a.AgentID, _ = n.topics.AgentID(m.Topic())
	}
	if err := a.Validate(); err != nil {
		n.log.Errorf("rejected announcement: %v", err)
		return
	}
	n.mu.Lock()
	n.announced = append(n.announced, a)
	n.mu.Unlock()
}

// RefreshTopology republishes the retained topology payload.
func (n *Network) RefreshTopology(_ context.Context, topology string) error {
	return n.conn.publish(KindTopology, n.topics.Topology(), true, topology)
}

func (n *Network) Lookup(kind string, index int) (model.Participant, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, ok := n.byKey[key{kind, index}]
	if !ok {
		return nil, false
	}
	return n.agents[id], true
}

func (n *Network) Participants() []model.Participant {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Participant, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.agents[id])
	}
	return out
}

func (n *Network) known(p model.Participant) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return network.ErrClosed
	}
	if _, ok := n.agents[p.ID()]; !ok {
		return fmt.Errorf("%w: %s", network.ErrUnknownParticipant, p.ID())
	}
	return nil
}

func (n *Network) PushFlexibility(p model.Participant, start int64, min, max float64) error {
	if err := n.known(p); err != nil {
		return err
	}
	msg := FlexibilityMessage{Start: start, Min: min, Max: max}
	return n.conn.publish(KindFlexibility, n.topics.Agent(p.ID(), KindFlexibility), false, msg)
}

// PublishReputation forwards the score to the remote agent, unless the
// settings ignore the reputation of its role.
func (n *Network) PublishReputation(p model.Participant, score float64) {
	if err := n.known(p); err != nil {
		return
	}
	switch p.Role() {
	case model.RoleProducer:
		if !n.settings.ProducerReputation() {
			return
		}
	case model.RoleConsumer:
		if !n.settings.ConsumerReputation() {
			return
		}
	}
	if err := n.conn.publish(KindReputation, n.topics.Agent(p.ID(), KindReputation), false, ReputationMessage{Score: score}); err != nil {
		n.log.Errorf("reputation of %s not published: %v", p.ID(), err)
	}
}

func (n *Network) StartNegotiation(_ context.Context, p model.Participant, w model.Window, amount float64) (string, error) {
	if err := n.known(p); err != nil {
		return "", err
	}
	id := uuid.NewString()
	n.mu.Lock()
	n.pending[id] = make(chan struct{}, 1)
	n.owners[id] = p.ID()
	n.mu.Unlock()

	msg := NegotiateMessage{RequestID: id, Start: w.Start, End: w.End, Amount: amount}
	if err := n.conn.publish(KindNegotiate, n.topics.Agent(p.ID(), KindNegotiate), false, msg); err != nil {
		n.forget(id)
		return "", err
	}
	return id, nil
}

// onDone accumulates the result of a completed request. Completions of
// requests nobody waits for any more are dropped.
func (n *Network) onDone(_ paho.Client, m paho.Message) {
	var msg DoneMessage
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		n.log.Errorf("invalid completion on %s: %v", m.Topic(), err)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.pending[msg.RequestID]
	if !ok {
		n.log.Debugf("late completion %s dropped", msg.RequestID)
		return
	}
	owner := n.owners[msg.RequestID]
	res := n.results[owner]
	if res == nil {
		res = make(map[string]float64)
		n.results[owner] = res
	}
	for provider, v := range msg.Result {
		res[provider] += v
	}
	n.messages[owner] += msg.Messages
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (n *Network) forget(id string) {
	n.mu.Lock()
	delete(n.pending, id)
	delete(n.owners, id)
	n.mu.Unlock()
}

func (n *Network) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) error {
	n.mu.Lock()
	ch, ok := n.pending[id]
	n.mu.Unlock()
	if !ok {
		return network.ErrUnknownRequest
	}
	defer n.forget(id)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return network.ErrNegotiationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Network) Result(p model.Participant) map[string]float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]float64, len(n.results[p.ID()]))
	for k, v := range n.results[p.ID()] {
		out[k] = v
	}
	return out
}

func (n *Network) ClearResult(p model.Participant) {
	n.mu.Lock()
	delete(n.results, p.ID())
	n.mu.Unlock()
}

func (n *Network) MessagesSent(p model.Participant) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.messages[p.ID()]
}

func (n *Network) ResetMessages(p model.Participant) {
	n.mu.Lock()
	delete(n.messages, p.ID())
	n.mu.Unlock()
}

// Shutdown tells the remote agents to stop and disconnects.
func (n *Network) Shutdown(context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	err := n.conn.publish(KindShutdown, n.topics.Shutdown(), false, "shutdown")
	n.conn.close()
	return err
}
