package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := write(t, "config.yaml", `controller:
  step_size: 60
  end: 3600
  factor_mw: 1
  negotiation:
    restart_budget: 0
    workers: 4
network:
  type: mqtt
  conf:
    ttl: 3
    discovery_window_ms: 500
mqtt:
  broker: "tcp://broker:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  qos:
    negotiate: 1
metrics:
  sinks:
    - type: "nop"
logging:
  backend: sqlite
  path: steps.db
http:
  addr: ":2112"
  token: secret
scenario:
  path: qa/scenarios/testdata/two_loads.yaml
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"step_size", cfg.Controller.StepSize, int64(60)},
		{"end", cfg.Controller.EpisodeLength, int64(3600)},
		{"restart_budget", cfg.Controller.Negotiation.Budget(), 0},
		{"workers", cfg.Controller.Negotiation.Workers, 4},
		{"network.type", cfg.Network.Type, "mqtt"},
		{"broker", cfg.MQTT.Broker, "tcp://broker:1883"},
		{"client_id", cfg.MQTT.ClientID, "cli"},
		{"prefix", cfg.MQTT.Prefix, "flexneg"},
		{"qos", cfg.MQTT.QoS["negotiate"], byte(1)},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"logging.backend", cfg.Logging.Backend, "sqlite"},
		{"http.addr", cfg.HTTP.Addr, ":2112"},
		{"http.token", cfg.HTTP.Token, "secret"},
		{"scenario", cfg.Scenario.Path, "qa/scenarios/testdata/two_loads.yaml"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
	assert.EqualValues(t, 3, cfg.Network.Conf["ttl"])
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(write(t, "config.json", `{}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultNetwork, cfg.Network.Type)
	assert.Equal(t, int64(900), cfg.Controller.StepSize)
	assert.Equal(t, 40, cfg.Controller.Negotiation.Budget())
	assert.Equal(t, "jsonl", cfg.Logging.Backend)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Empty(t, cfg.HTTP.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLEXNEG_CONTROLLER__STEP_SIZE", "300")
	t.Setenv("FLEXNEG_HTTP__TOKEN", "from-env")
	t.Setenv("FLEXNEG_NETWORK__CONF__TTL", "7")
	cfg, err := Load(write(t, "config.yaml", "http:\n  token: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(300), cfg.Controller.StepSize)
	assert.Equal(t, "from-env", cfg.HTTP.Token)
	assert.Equal(t, "7", cfg.Network.Conf["ttl"])

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(300), cfg.Controller.StepSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(write(t, "config.toml", ""))
	assert.Error(t, err)

	_, err = Load(write(t, "config.yaml", "controller:\n  step_size: -5\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "config.yaml", "logging:\n  backend: csv\n"))
	assert.Error(t, err)

	_, err = Load(write(t, "config.yaml", "metrics:\n  sinks:\n    - conf: {}\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNetworkModuleMergesMQTTSection(t *testing.T) {
	cfg, err := Load(write(t, "config.yaml", `network:
  type: mqtt
  conf:
    prefix: grid
    ttl: 4
mqtt:
  broker: "tcp://broker:1883"
  prefix: flexneg
`))
	require.NoError(t, err)
	mod, err := cfg.NetworkModule()
	require.NoError(t, err)
	assert.Equal(t, "mqtt", mod.Type)
	assert.Equal(t, "tcp://broker:1883", mod.Conf["broker"])
	assert.Equal(t, "grid", mod.Conf["prefix"])
	assert.EqualValues(t, 4, mod.Conf["ttl"])

	cfg.Network.Type = "sim"
	mod, err = cfg.NetworkModule()
	require.NoError(t, err)
	assert.NotContains(t, mod.Conf, "broker")
}

func TestLoadExample(t *testing.T) {
	cfg, err := Load("../config.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mqtt", cfg.Network.Type)
	assert.Equal(t, "kpi.db", cfg.KPI.Path)
	require.NotNil(t, cfg.Controller.Negotiation.RestartBudget)
	assert.Equal(t, 3, *cfg.Controller.Negotiation.RestartBudget)
	assert.Len(t, cfg.Metrics.Sinks, 2)
	assert.Equal(t, 15*60, int(cfg.Controller.StepDuration().Seconds()))

	mod, err := cfg.NetworkModule()
	require.NoError(t, err)
	assert.Equal(t, "flexneg-controller", mod.Conf["client_id"])
	assert.Equal(t, 5, mod.Conf["ttl"])
}
