// Package scenarios replays scripted sensor values against a step controller
// and checks the resulting setpoints and negotiation outcomes.
package scenarios

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/flexneg/core/factory"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/core/step"
	"github.com/kilianp07/flexneg/infra/simnet"
)

// StepDef holds the sensor values of one step and what it should produce.
type StepDef struct {
	Sensors map[string]float64 `yaml:"sensors"`
	// OmitTopology leaves the topology sensor out of this step.
	OmitTopology bool   `yaml:"omit_topology,omitempty"`
	Expect       Expect `yaml:"expect"`
}

// Expect lists the checks applied to a step. Unset fields are not checked.
type Expect struct {
	Skipped    bool               `yaml:"skipped,omitempty"`
	Negotiated *float64           `yaml:"negotiated,omitempty"`
	Setpoints  map[string]float64 `yaml:"setpoints,omitempty"`
	// Outcomes maps participant ids to success, failure, timeout or infeasible.
	Outcomes map[string]string `yaml:"outcomes,omitempty"`
}

type Scenario struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Topology    simnet.Topology `yaml:"topology"`
	// Controller and Network use the keys of the service configuration.
	Controller map[string]any `yaml:"controller,omitempty"`
	Network    map[string]any `yaml:"network,omitempty"`
	Actuators  []string       `yaml:"actuators"`
	// Drop lists participants that never answer a negotiation.
	Drop  []string  `yaml:"drop,omitempty"`
	Steps []StepDef `yaml:"steps"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks the scenario can be replayed.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %s has no steps", sc.Name)
	}
	if _, err := simnet.ParseTopology(sc.TopologyPayload()); err != nil {
		return fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	if _, err := sc.ControllerConfig(); err != nil {
		return fmt.Errorf("scenario %s: controller: %w", sc.Name, err)
	}
	return nil
}

// TopologyPayload is the value of the topology sensor.
func (sc *Scenario) TopologyPayload() string {
	b, err := json.Marshal(sc.Topology)
	if err != nil {
		return ""
	}
	return string(b)
}

// ControllerConfig decodes the controller section with defaults applied.
func (sc *Scenario) ControllerConfig() (step.Config, error) {
	var cfg step.Config
	if err := factory.Decode(sc.Controller, &cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

// NetworkSettings decodes the settings of the simulated network.
func (sc *Scenario) NetworkSettings() (network.Settings, error) {
	if sc.Network == nil {
		return network.DecodeSettings(map[string]any{})
	}
	return network.DecodeSettings(sc.Network)
}
