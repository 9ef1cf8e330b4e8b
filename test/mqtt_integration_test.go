//go:build !no_containers

package test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexneg/core/negotiation"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/core/step"
	"github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/infra/mqtt"
	"github.com/kilianp07/flexneg/infra/simnet"
	"github.com/kilianp07/flexneg/qa/scenarios"
	"github.com/kilianp07/flexneg/test/util"
)

// TestScenarioOverMQTT replays a scenario through a real broker: the
// controller uses the mqtt network and the simulated agents sit behind a
// bridge.
func TestScenarioOverMQTT(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()
	mosq, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto: %v", err)
	}
	defer mosq.Close()
	broker := mosq.URL

	sim := simnet.New(network.Settings{RequestWaitSeconds: 0.005, ReplyWaitSeconds: 0.005}, logger.NopLogger{})
	bridge, err := mqtt.NewBridge(mqtt.Config{Broker: broker, ClientID: "agents"}, sim, logger.NopLogger{})
	require.NoError(t, err)
	go func() { _ = bridge.Run(ctx) }()

	net, err := mqtt.NewNetwork(mqtt.Config{Broker: broker, ClientID: "controller", DiscoveryWindowMS: 500}, network.Settings{RequestWaitSeconds: 0.005, ReplyWaitSeconds: 0.005}, logger.NopLogger{})
	require.NoError(t, err)

	sc, err := scenarios.Load("../qa/scenarios/testdata/two_loads.yaml")
	require.NoError(t, err)
	for i := range sc.Topology.Participants {
		sc.Topology.Participants[i].PatienceMS = 1000
	}
	step.ResetMetrics(prometheus.NewRegistry())
	negotiation.ResetMetrics(prometheus.NewRegistry())

	res, err := scenarios.Run(ctx, sc, scenarios.Options{Network: net})
	require.NoError(t, err)
	assert.True(t, res.OK(), res.Mismatches)
	assert.Len(t, sim.Participants(), 3)

	select {
	case <-bridge.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not receive the shutdown")
	}
}
