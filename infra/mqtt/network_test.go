package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexneg/core/factory"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/infra/simnet"
)

const topology = `{
  "participants": [
    {"id": "sgen-0", "kind": "sgen", "index": 0},
    {"id": "sgen-1", "kind": "sgen", "index": 1},
    {"id": "load-0", "kind": "load", "index": 0, "patience_ms": 500}
  ]
}`

func TestTopics(t *testing.T) {
	tp := Topics{Prefix: "flexneg"}
	assert.Equal(t, "flexneg/agent/load-0/negotiate", tp.Agent("load-0", KindNegotiate))
	assert.Equal(t, "flexneg/announce/+", tp.Announcements())

	id, ok := tp.AgentID("flexneg/agent/load-0/done")
	assert.True(t, ok)
	assert.Equal(t, "load-0", id)
	id, ok = tp.AgentID("flexneg/announce/sgen-1")
	assert.True(t, ok)
	assert.Equal(t, "sgen-1", id)

	_, ok = tp.AgentID("other/agent/load-0/done")
	assert.False(t, ok)
	_, ok = tp.AgentID("flexneg/topology")
	assert.False(t, ok)
}

func TestTopicMatches(t *testing.T) {
	assert.True(t, topicMatches("a/+/done", "a/x/done"))
	assert.True(t, topicMatches("a/#", "a/x/done"))
	assert.False(t, topicMatches("a/+/done", "a/x/y/done"))
	assert.False(t, topicMatches("a/+", "a"))
}

// startBridge serves a simulated network on the in-memory broker.
func startBridge(t *testing.T, b *broker) (*Bridge, *simnet.Network) {
	t.Helper()
	sim := simnet.New(network.Settings{RequestWaitSeconds: 0.001, ReplyWaitSeconds: 0.001}, logger.NopLogger{})
	br, err := NewBridge(Config{Broker: "tcp://broker:1883", ClientID: "bridge"}, sim, logger.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(br.Close)
	return br, sim
}

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	cfg := Config{Broker: "tcp://broker:1883", ClientID: "controller", DiscoveryWindowMS: 100}
	n, err := NewNetwork(cfg, network.Settings{PatienceSeconds: 2, RequestWaitSeconds: 0.001, ReplyWaitSeconds: 0.001}, logger.NopLogger{})
	require.NoError(t, err)
	return n
}

func TestNetworkOverBridge(t *testing.T) {
	b := newBroker()
	b.install(t)
	br, sim := startBridge(t, b)
	n := newTestNetwork(t)
	ctx := context.Background()

	require.NoError(t, n.Bootstrap(ctx, topology))
	require.Len(t, n.Participants(), 3)
	assert.Len(t, sim.Participants(), 3)

	g0, ok := n.Lookup(model.KindGenerator, 0)
	require.True(t, ok)
	g1, _ := n.Lookup(model.KindGenerator, 1)
	c, ok := n.Lookup(model.KindLoad, 0)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, c.Patience())

	require.NoError(t, n.PushFlexibility(g0, 900, 0, 4))
	require.NoError(t, n.PushFlexibility(g1, 900, 0, 4))
	id, err := n.StartNegotiation(ctx, c, model.Window{Start: 900, End: 1800}, 6)
	require.NoError(t, err)
	require.NoError(t, n.WaitForCompletion(ctx, id, 2*time.Second))

	res := n.Result(c)
	assert.InDelta(t, 6, res["sgen-0"]+res["sgen-1"], 1e-6)
	assert.Positive(t, n.MessagesSent(c))
	assert.Empty(t, sim.Result(c), "bridge clears the local result once reported")

	n.PublishReputation(c, 3)
	require.NoError(t, n.Shutdown(ctx))
	select {
	case <-br.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not observe shutdown")
	}
}

func TestNetworkRefreshRepublishesTopology(t *testing.T) {
	b := newBroker()
	b.install(t)
	startBridge(t, b)
	n := newTestNetwork(t)
	ctx := context.Background()
	require.NoError(t, n.Bootstrap(ctx, topology))

	next := `{"participants":[{"id":"sgen-0","kind":"sgen","index":0},{"id":"load-0","kind":"load","index":0}],"links":[["sgen-0","load-0"]]}`
	require.NoError(t, n.RefreshTopology(ctx, next))
	b.mu.Lock()
	assert.JSONEq(t, next, string(b.retained["flexneg/topology"]))
	b.mu.Unlock()
}

func TestSettingsReachTheBridge(t *testing.T) {
	b := newBroker()
	b.install(t)
	_, sim := startBridge(t, b)
	off := false
	s := network.Settings{
		TTL:                   3,
		PatienceSeconds:       2,
		RequestWaitSeconds:    0.002,
		ReplyWaitSeconds:      0.003,
		SendMessagePaths:      &off,
		UseProducerReputation: &off,
	}
	n, err := NewNetwork(Config{Broker: "tcp://broker:1883", ClientID: "controller", DiscoveryWindowMS: 100}, s, logger.NopLogger{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, n.Bootstrap(ctx, topology))

	got := sim.Settings()
	assert.Equal(t, 3, got.TTL)
	assert.Equal(t, 2.0, got.PatienceSeconds)
	assert.Equal(t, 0.002, got.RequestWaitSeconds)
	assert.Equal(t, 0.003, got.ReplyWaitSeconds)
	assert.False(t, got.MessagePaths())
	assert.False(t, got.ProducerReputation())
	assert.True(t, got.ConsumerReputation())

	g0, _ := n.Lookup(model.KindGenerator, 0)
	c, _ := n.Lookup(model.KindLoad, 0)
	n.PublishReputation(g0, 4)
	n.PublishReputation(c, 2)
	tp := Topics{Prefix: "flexneg"}
	assert.Empty(t, b.publications(tp.Agent("sgen-0", KindReputation)))
	assert.Len(t, b.publications(tp.Agent("load-0", KindReputation)), 1)
}

func TestBootstrapWithoutAgentsFails(t *testing.T) {
	b := newBroker()
	b.install(t)
	n := newTestNetwork(t)
	assert.Error(t, n.Bootstrap(context.Background(), topology))
}

func TestSilentAgentTimesOut(t *testing.T) {
	b := newBroker()
	b.install(t)
	_, sim := startBridge(t, b)
	n := newTestNetwork(t)
	ctx := context.Background()
	require.NoError(t, n.Bootstrap(ctx, topology))

	c, _ := n.Lookup(model.KindLoad, 0)
	sim.Drop(c.ID())
	id, err := n.StartNegotiation(ctx, c, model.Window{Start: 0, End: 900}, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, n.WaitForCompletion(ctx, id, 50*time.Millisecond), network.ErrNegotiationTimeout)
}

func TestAnnouncementsAreValidated(t *testing.T) {
	b := newBroker()
	b.install(t)
	n := newTestNetwork(t)

	agent := b.newClient()
	agent.Connect()
	agent.Subscribe("flexneg/discovery", 0, func(_ paho.Client, _ paho.Message) {
		good, _ := json.Marshal(model.Agent{Element: model.KindLoad, Position: 2})
		agent.Publish("flexneg/announce/load-2", 0, false, good)
		agent.Publish("flexneg/announce/bus-0", 0, false, []byte(`{"id":"bus-0","kind":"bus"}`))
		agent.Publish("flexneg/announce/junk", 0, false, []byte(`{`))
	})

	require.NoError(t, n.Bootstrap(context.Background(), topology))
	ps := n.Participants()
	require.Len(t, ps, 1)
	assert.Equal(t, "load-2", ps[0].ID())
	assert.Equal(t, 2*time.Second, ps[0].Patience())
}

func TestFactoryRegistersMQTT(t *testing.T) {
	useClient(t, &mockClient{})
	net, err := network.New(factory.ModuleConfig{Type: "mqtt", Conf: map[string]any{
		"broker":    "tcp://localhost:1883",
		"client_id": "factory",
		"prefix":    "grid",
		"ttl":       "5",
	}})
	require.NoError(t, err)
	n := net.(*Network)
	assert.Equal(t, "grid", n.topics.Prefix)
	assert.Equal(t, 5, n.settings.TTL)
}
