// Package config loads the service configuration from a YAML or JSON file
// with FLEXNEG_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/kilianp07/flexneg/core/factory"
	"github.com/kilianp07/flexneg/core/metrics"
	"github.com/kilianp07/flexneg/core/step"
	"github.com/kilianp07/flexneg/core/steplog"
	"github.com/kilianp07/flexneg/infra/monitoring"
	"github.com/kilianp07/flexneg/infra/mqtt"
)

// EnvPrefix marks environment overrides. Nested keys are separated by a
// double underscore: FLEXNEG_CONTROLLER__STEP_SIZE=60.
const EnvPrefix = "FLEXNEG_"

// DefaultNetwork is the network adapter used when none is configured.
const DefaultNetwork = "sim"

type Config struct {
	Controller step.Config             `json:"controller"`
	Network    factory.ModuleConfig    `json:"network"`
	MQTT       mqtt.Config             `json:"mqtt"`
	Metrics    metrics.Config          `json:"metrics"`
	Logging    steplog.Config          `json:"logging"`
	Sentry     monitoring.SentryConfig `json:"sentry"`
	HTTP       HTTPConfig              `json:"http"`
	KPI        KPIConfig               `json:"kpi"`
	Scenario   ScenarioConfig          `json:"scenario"`
}

// HTTPConfig exposes /metrics and the read APIs. An empty Addr disables the
// server.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// Token guards the step log API with a bearer token when set.
	Token string `json:"token"`
}

// KPIConfig locates the SQLite database of daily energy KPIs. An empty Path
// disables them.
type KPIConfig struct {
	Path string `json:"path"`
}

// ScenarioConfig points to a scenario replayed at startup.
type ScenarioConfig struct {
	Path string `json:"path"`
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.Controller.SetDefaults()
	if c.Network.Type == "" {
		c.Network.Type = DefaultNetwork
	}
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for i, s := range c.Metrics.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics: sink %d has no type", i)
		}
	}
	if c.Sentry.TracesSampleRate < 0 || c.Sentry.TracesSampleRate > 1 {
		return fmt.Errorf("sentry: traces_sample_rate must be within [0,1]")
	}
	return nil
}

// Load reads path, applies environment overrides, defaults and validation.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NetworkModule returns the network module selection. The mqtt adapter takes
// its connection settings from the mqtt section; keys set in network.conf
// win.
func (c Config) NetworkModule() (factory.ModuleConfig, error) {
	mod := factory.ModuleConfig{Type: c.Network.Type, Conf: map[string]any{}}
	if mod.Type == "mqtt" {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &mod.Conf})
		if err != nil {
			return mod, err
		}
		if err := dec.Decode(c.MQTT); err != nil {
			return mod, fmt.Errorf("mqtt section: %w", err)
		}
	}
	for k, v := range c.Network.Conf {
		mod.Conf[k] = v
	}
	return mod, nil
}
