package negotiation

import (
	"fmt"
	"time"
)

// DefaultRestartBudget is the restart budget used when none is configured.
const DefaultRestartBudget = 40

// Config controls one negotiation round.
type Config struct {
	// RestartBudget is the number of restarts shared by all consumers of a
	// round. Nil selects DefaultRestartBudget; zero disables restarts.
	RestartBudget *int `json:"restart_budget"`
	// Workers bounds the number of completions awaited concurrently.
	// Outcomes are applied in queue order whatever the value.
	Workers int `json:"workers"`
	// PatienceFactor multiplies a participant's patience into its wait.
	PatienceFactor float64 `json:"patience_factor"`
	// DefaultPatienceSeconds applies to participants reporting no patience.
	DefaultPatienceSeconds float64 `json:"default_patience_seconds"`
}

// SetDefaults applies the defaults of the agent network.
func (c *Config) SetDefaults() {
	if c.RestartBudget == nil {
		b := DefaultRestartBudget
		c.RestartBudget = &b
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.PatienceFactor == 0 {
		c.PatienceFactor = 3
	}
	if c.DefaultPatienceSeconds == 0 {
		c.DefaultPatienceSeconds = 10
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	if c.Budget() < 0 {
		return fmt.Errorf("restart_budget must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.PatienceFactor <= 0 || c.DefaultPatienceSeconds <= 0 {
		return fmt.Errorf("patience settings must be positive")
	}
	return nil
}

func (c Config) defaultPatience() time.Duration {
	return time.Duration(c.DefaultPatienceSeconds * float64(time.Second))
}

// Budget returns the configured restart budget.
func (c Config) Budget() int {
	if c.RestartBudget == nil {
		return DefaultRestartBudget
	}
	return *c.RestartBudget
}
