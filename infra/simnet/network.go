// Package simnet is an in-process negotiation network. Consumers ask the
// producers they reach within the TTL for power; requests arriving within
// the processing window are served together by descending consumer
// reputation, and each request is split over its producers by a
// reputation-weighted linear program.
package simnet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
	infralogger "github.com/kilianp07/flexneg/infra/logger"
)

func init() {
	_ = network.Register("sim", func(conf map[string]any) (network.Network, error) {
		s, err := network.DecodeSettings(conf)
		if err != nil {
			return nil, err
		}
		return New(s, infralogger.New("simnet")), nil
	})
}

type key struct {
	kind  string
	index int
}

type flexibility struct {
	start     int64
	min, max  float64
	remaining float64
}

type request struct {
	id       string
	consumer model.Participant
	window   model.Window
	amount   float64
	done     chan struct{}
	// abandoned is set once the waiter gave up; the request is then never
	// served and its reservations are released.
	abandoned bool
}

// Network simulates the agent network in memory.
type Network struct {
	settings network.Settings
	log      logger.Logger

	mu         sync.Mutex
	agents     map[string]model.Agent
	order      []string
	byKey      map[key]string
	adj        map[string][]string
	linked     bool
	flex       map[string]*flexibility
	reputation map[string]float64
	results    map[string]map[string]float64
	messages   map[string]int
	requests   map[string]*request
	pending    []*request
	batch      *time.Timer
	dropped    map[string]bool
	closed     bool
}

// New returns an empty network. Bootstrap must be called before use.
func New(s network.Settings, log logger.Logger) *Network {
	s.SetDefaults()
	return &Network{
		settings:   s,
		log:        log,
		agents:     make(map[string]model.Agent),
		byKey:      make(map[key]string),
		adj:        make(map[string][]string),
		flex:       make(map[string]*flexibility),
		reputation: make(map[string]float64),
		results:    make(map[string]map[string]float64),
		messages:   make(map[string]int),
		requests:   make(map[string]*request),
		dropped:    make(map[string]bool),
	}
}

func (n *Network) Bootstrap(_ context.Context, payload string) error {
	t, err := ParseTopology(payload)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return network.ErrClosed
	}
	n.apply(t)
	n.log.Infof("bootstrapped %d participants, %d links", len(n.agents), len(t.Links))
	return nil
}

// RefreshTopology registers new participants and replaces the links.
// Existing participants keep their state, and links may join them to the
// participants of the payload.
func (n *Network) RefreshTopology(_ context.Context, payload string) error {
	t, err := decodeTopology(payload)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return network.ErrClosed
	}
	if err := t.checkLinks(func(id string) bool {
		_, ok := n.agents[id]
		return ok
	}); err != nil {
		return err
	}
	n.apply(t)
	n.log.Debugf("topology refreshed: %d participants", len(n.agents))
	return nil
}

func (n *Network) apply(t Topology) {
	for _, a := range t.Participants {
		if a.PatienceMS == 0 {
			a.PatienceMS = int(n.settings.Patience().Milliseconds())
		}
		if _, ok := n.agents[a.AgentID]; !ok {
			n.order = append(n.order, a.AgentID)
			n.reputation[a.AgentID] = a.Reputation
		}
		n.agents[a.AgentID] = a
		n.byKey[key{a.Element, a.Position}] = a.AgentID
	}
	n.adj = make(map[string][]string)
	for _, l := range t.Links {
		n.adj[l[0]] = append(n.adj[l[0]], l[1])
		n.adj[l[1]] = append(n.adj[l[1]], l[0])
	}
	n.linked = len(t.Links) > 0
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

func (n *Network) PushFlexibility(p model.Participant, start int64, min, max float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.agents[p.ID()]; !ok {
		return fmt.Errorf("%w: %s", network.ErrUnknownParticipant, p.ID())
	}
	n.flex[p.ID()] = &flexibility{start: start, min: min, max: max, remaining: max}
	return nil
}

// ApplySettings replaces the network settings. Participants already known
// keep their patience.
func (n *Network) ApplySettings(s network.Settings) {
	s.SetDefaults()
	n.mu.Lock()
	n.settings = s
	n.mu.Unlock()
}

// Settings returns the settings in use.
func (n *Network) Settings() network.Settings {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settings
}

// PublishReputation updates the priority used for p.
func (n *Network) PublishReputation(p model.Participant, score float64) {
	n.mu.Lock()
	n.reputation[p.ID()] = score
	n.mu.Unlock()
}

// Drop makes every later request of the participant hang, as if its
// completion signal were lost.
func (n *Network) Drop(id string) {
	n.mu.Lock()
	n.dropped[id] = true
	n.mu.Unlock()
}

// Restore undoes Drop.
func (n *Network) Restore(id string) {
	n.mu.Lock()
	delete(n.dropped, id)
	n.mu.Unlock()
}

func (n *Network) StartNegotiation(_ context.Context, p model.Participant, w model.Window, amount float64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return "", network.ErrClosed
	}
	if _, ok := n.agents[p.ID()]; !ok {
		return "", fmt.Errorf("%w: %s", network.ErrUnknownParticipant, p.ID())
	}
	req := &request{
		id:       uuid.NewString(),
		consumer: p,
		window:   w,
		amount:   amount,
		done:     make(chan struct{}),
	}
	n.requests[req.id] = req
	if n.dropped[p.ID()] {
		n.log.Debugf("request %s of %s dropped", req.id, p.ID())
		return req.id, nil
	}
	n.pending = append(n.pending, req)
	if n.batch == nil {
		n.batch = time.AfterFunc(n.settings.RequestWait(), n.serve)
	}
	return req.id, nil
}

// serve processes the pending batch.
func (n *Network) serve() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batch = nil
	if n.closed {
		return
	}
	batch := n.pending
	n.pending = nil
	if n.settings.ConsumerReputation() {
		sort.SliceStable(batch, func(i, j int) bool {
			return n.reputation[batch[i].consumer.ID()] > n.reputation[batch[j].consumer.ID()]
		})
	}
	for _, req := range batch {
		if req.abandoned {
			continue
		}
		alloc := n.negotiate(req)
		time.AfterFunc(n.settings.ReplyWait(), func() { n.deliver(req, alloc) })
	}
}

// deliver hands the reserved allocation to the consumer once the reply
// delay elapsed. Allocations of abandoned requests go back to the producers
// if their window is still offered.
func (n *Network) deliver(req *request, alloc map[string]float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if req.abandoned {
		for id, v := range alloc {
			if f := n.flex[id]; f != nil && f.start == req.window.Start {
				f.remaining += v
			}
		}
		return
	}
	cid := req.consumer.ID()
	res := n.results[cid]
	if res == nil {
		res = make(map[string]float64)
		n.results[cid] = res
	}
	for id, v := range alloc {
		res[id] += v
	}
	close(req.done)
}

// abandon forgets a request whose waiter stopped waiting.
func (n *Network) abandon(req *request) {
	n.mu.Lock()
	req.abandoned = true
	delete(n.requests, req.id)
	n.mu.Unlock()
}

// negotiate reserves the producers' share of one request and returns it.
// Callers hold n.mu.
func (n *Network) negotiate(req *request) map[string]float64 {
	cid := req.consumer.ID()
	var ids []string
	var caps, weights []float64
	var total float64
	dist := n.reach(cid)
	for _, id := range n.order {
		d, ok := dist[id]
		if !ok || n.agents[id].Role() != model.RoleProducer {
			continue
		}
		f := n.flex[id]
		n.count(cid, id, d)
		if f == nil || f.start != req.window.Start || f.remaining <= 0 {
			continue
		}
		w := 1.0
		if n.settings.ProducerReputation() {
			w = 1 / (1 + n.reputation[id])
		}
		// Tie-break by registration order so the optimum is unique.
		w -= 1e-4 * float64(len(ids)) / float64(len(n.order))
		ids = append(ids, id)
		caps = append(caps, f.remaining)
		weights = append(weights, w)
		total += f.remaining
	}
	amount := req.amount
	if amount > total {
		amount = total
	}
	alloc := allocate(weights, caps, amount)
	out := make(map[string]float64, len(ids))
	for i, id := range ids {
		if alloc[i] <= 0 {
			continue
		}
		out[id] = alloc[i]
		n.flex[id].remaining -= alloc[i]
		n.count(id, cid, dist[id])
	}
	n.log.Debugw("negotiation served", map[string]any{
		"request":   req.id,
		"consumer":  cid,
		"requested": req.amount,
		"allocated": amount,
		"producers": len(ids),
	})
	return out
}

// reach returns the hop distance of every participant reachable from id.
func (n *Network) reach(id string) map[string]int {
	if !n.linked {
		out := make(map[string]int, len(n.order))
		for _, other := range n.order {
			out[other] = 1
		}
		out[id] = 0
		return out
	}
	return hops(n.adj, id, n.settings.TTL)
}

// count charges the messages of one exchange from sender to receiver.
func (n *Network) count(from, to string, hops int) {
	if from == to {
		return
	}
	c := 1
	if n.settings.MessagePaths() && hops > 1 {
		c = hops
	}
	n.messages[from] += c
}

func (n *Network) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) error {
	n.mu.Lock()
	req, ok := n.requests[id]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", network.ErrUnknownRequest, id)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-req.done:
		n.mu.Lock()
		delete(n.requests, id)
		n.mu.Unlock()
		return nil
	case <-timer.C:
		n.abandon(req)
		return network.ErrNegotiationTimeout
	case <-ctx.Done():
		n.abandon(req)
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

func (n *Network) Shutdown(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.batch != nil {
		n.batch.Stop()
		n.batch = nil
	}
	n.pending = nil
	n.log.Infof("simulated network shut down")
	return nil
}

var (
	_ network.Network             = (*Network)(nil)
	_ network.ReputationPublisher = (*Network)(nil)
	_ network.SettingsApplier     = (*Network)(nil)
)
