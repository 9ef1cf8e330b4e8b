package step

import (
	"fmt"
	"time"

	"github.com/kilianp07/flexneg/core/negotiation"
	"github.com/kilianp07/flexneg/core/reputation"
)

// DefaultTopologySensorID carries the serialized topology.
const DefaultTopologySensorID = "env.Powergrid-0.Grid-0.grid_json"

// Config holds the controller settings.
type Config struct {
	// StepSize is the simulated duration of one step, in seconds.
	StepSize int64 `json:"step_size"`
	// EpisodeLength is the simulated duration of an episode, in seconds.
	EpisodeLength int64 `json:"end"`
	// FactorMW scales raw MW readings into negotiated units.
	FactorMW         float64            `json:"factor_mw"`
	TopologySensorID string             `json:"topology_sensor_id"`
	Negotiation      negotiation.Config `json:"negotiation"`
	Reputation       reputation.Config  `json:"reputation"`
}

// SetDefaults fills unset fields with the controller defaults.
func (c *Config) SetDefaults() {
	if c.StepSize == 0 {
		c.StepSize = 900
	}
	if c.EpisodeLength == 0 {
		c.EpisodeLength = 24 * 60 * 60
	}
	if c.FactorMW == 0 {
		c.FactorMW = 1e6
	}
	if c.TopologySensorID == "" {
		c.TopologySensorID = DefaultTopologySensorID
	}
	c.Negotiation.SetDefaults()
	c.Reputation.SetDefaults()
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	if c.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive")
	}
	if c.EpisodeLength < c.StepSize {
		return fmt.Errorf("end must be at least one step")
	}
	if c.FactorMW <= 0 {
		return fmt.Errorf("factor_mw must be positive")
	}
	if err := c.Negotiation.Validate(); err != nil {
		return fmt.Errorf("negotiation: %w", err)
	}
	if err := c.Reputation.Validate(); err != nil {
		return fmt.Errorf("reputation: %w", err)
	}
	return nil
}

// StepDuration is StepSize as a duration.
func (c Config) StepDuration() time.Duration {
	return time.Duration(c.StepSize) * time.Second
}
