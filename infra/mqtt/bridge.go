package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
)

// defaultServeWait bounds a bridged negotiation when the participant has no
// patience of its own.
const defaultServeWait = 30 * time.Second

// Bridge exposes a local network (usually the simulator) on the MQTT topic
// tree so that a controller using the "mqtt" network can negotiate with it.
type Bridge struct {
	cfg    Config
	topics Topics
	net    network.Network
	log    logger.Logger
	conn   *conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	booted bool
	done   chan struct{}
	once   sync.Once
}

// NewBridge connects to the broker and starts serving net.
func NewBridge(cfg Config, net network.Network, log logger.Logger) (*Bridge, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.Prefix},
		net:    net,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c, err := dial(cfg, log, func(c *conn) {
		_ = c.subscribe(KindSettings, b.topics.Settings(), b.onSettings)
		_ = c.subscribe(KindTopology, b.topics.Topology(), b.onTopology)
		_ = c.subscribe(KindDiscovery, b.topics.Discovery(), b.onDiscovery)
		_ = c.subscribe(KindFlexibility, b.topics.AllAgents(KindFlexibility), b.onFlexibility)
		_ = c.subscribe(KindNegotiate, b.topics.AllAgents(KindNegotiate), b.onNegotiate)
		_ = c.subscribe(KindReputation, b.topics.AllAgents(KindReputation), b.onReputation)
		_ = c.subscribe(KindShutdown, b.topics.Shutdown(), b.onShutdown)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	b.conn = c
	return b, nil
}

// Done is closed once the controller shut the network down.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Run blocks until ctx is cancelled or a shutdown is received, then waits
// for in-flight negotiations and disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-b.done:
	}
	b.Close()
	return nil
}

// Close stops serving and disconnects from the broker.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
	b.conn.close()
}

// onSettings applies the controller's network settings to the served
// network. They precede the topology on the wire.
func (b *Bridge) onSettings(_ paho.Client, m paho.Message) {
	ap, ok := b.net.(network.SettingsApplier)
	if !ok {
		b.log.Warnf("served network does not accept settings")
		return
	}
	var s network.Settings
	if err := json.Unmarshal(m.Payload(), &s); err != nil {
		b.log.Errorf("invalid settings: %v", err)
		return
	}
	if err := s.Validate(); err != nil {
		b.log.Errorf("rejected settings: %v", err)
		return
	}
	ap.ApplySettings(s)
	b.log.Infof("network settings applied: ttl=%d", s.TTL)
}

func (b *Bridge) onTopology(_ paho.Client, m paho.Message) {
	payload := string(m.Payload())
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.booted {
		if err := b.net.Bootstrap(b.ctx, payload); err != nil {
			b.log.Errorf("bootstrap: %v", err)
			return
		}
		b.booted = true
		b.log.Infof("bootstrapped %d participants", len(b.net.Participants()))
		return
	}
	if err := b.net.RefreshTopology(b.ctx, payload); err != nil {
		b.log.Errorf("refresh topology: %v", err)
	}
}

func (b *Bridge) onDiscovery(_ paho.Client, m paho.Message) {
	if string(m.Payload()) != b.cfg.MagicWord {
		return
	}
	b.spawn(func() {
		for _, p := range b.net.Participants() {
			if err := b.conn.publish(KindAnnounce, b.topics.Announce(p.ID()), false, announcement(p)); err != nil {
				b.log.Errorf("announce %s: %v", p.ID(), err)
			}
		}
	})
}

func announcement(p model.Participant) model.Agent {
	if a, ok := p.(model.Agent); ok {
		return a
	}
	a := model.Agent{AgentID: p.ID(), Element: p.Kind(), Position: p.Index(), PatienceMS: int(p.Patience().Milliseconds())}
	if ir, ok := p.(model.InitialReputation); ok {
		a.Reputation = ir.InitialReputation()
	}
	return a
}

// participant resolves the participant addressed by an agent topic.
func (b *Bridge) participant(topic string) (model.Participant, bool) {
	id, ok := b.topics.AgentID(topic)
	if !ok {
		return nil, false
	}
	for _, p := range b.net.Participants() {
		if p.ID() == id {
			return p, true
		}
	}
	b.log.Warnf("message for unknown participant %s", id)
	return nil, false
}

func (b *Bridge) onFlexibility(_ paho.Client, m paho.Message) {
	p, ok := b.participant(m.Topic())
	if !ok {
		return
	}
	var msg FlexibilityMessage
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		b.log.Errorf("invalid flexibility for %s: %v", p.ID(), err)
		return
	}
	if err := b.net.PushFlexibility(p, msg.Start, msg.Min, msg.Max); err != nil {
		b.log.Errorf("flexibility for %s: %v", p.ID(), err)
	}
}

func (b *Bridge) onReputation(_ paho.Client, m paho.Message) {
	pub, ok := b.net.(network.ReputationPublisher)
	if !ok {
		return
	}
	p, ok := b.participant(m.Topic())
	if !ok {
		return
	}
	var msg ReputationMessage
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		b.log.Errorf("invalid reputation for %s: %v", p.ID(), err)
		return
	}
	pub.PublishReputation(p, msg.Score)
}

func (b *Bridge) onNegotiate(_ paho.Client, m paho.Message) {
	p, ok := b.participant(m.Topic())
	if !ok {
		return
	}
	var msg NegotiateMessage
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		b.log.Errorf("invalid negotiation for %s: %v", p.ID(), err)
		return
	}
	b.spawn(func() { b.serve(p, msg) })
}

// serve runs one negotiation on the local network and reports the
// allocation it produced. Nothing is reported when it does not complete, so
// the remote side times out as it would against a silent agent.
func (b *Bridge) serve(p model.Participant, msg NegotiateMessage) {
	id, err := b.net.StartNegotiation(b.ctx, p, model.Window{Start: msg.Start, End: msg.End}, msg.Amount)
	if err != nil {
		b.log.Errorf("start negotiation for %s: %v", p.ID(), err)
		return
	}
	wait := 3 * p.Patience()
	if wait <= 0 {
		wait = defaultServeWait
	}
	if err := b.net.WaitForCompletion(b.ctx, id, wait); err != nil {
		b.log.Debugf("negotiation %s of %s: %v", msg.RequestID, p.ID(), err)
		return
	}
	result := b.net.Result(p)
	b.net.ClearResult(p)
	sent := 0
	for _, q := range b.net.Participants() {
		sent += b.net.MessagesSent(q)
		b.net.ResetMessages(q)
	}
	done := DoneMessage{RequestID: msg.RequestID, Result: result, Messages: sent}
	if err := b.conn.publish(KindDone, b.topics.Agent(p.ID(), KindDone), false, done); err != nil {
		b.log.Errorf("completion of %s: %v", p.ID(), err)
	}
}

func (b *Bridge) onShutdown(_ paho.Client, _ paho.Message) {
	b.once.Do(func() {
		if err := b.net.Shutdown(b.ctx); err != nil {
			b.log.Errorf("shutdown: %v", err)
		}
		b.log.Infof("network shut down by controller")
		close(b.done)
	})
}

func (b *Bridge) spawn(f func()) {
	select {
	case <-b.ctx.Done():
		return
	default:
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		f()
	}()
}
