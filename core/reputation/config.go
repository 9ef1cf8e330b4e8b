package reputation

import (
	"fmt"
	"sort"
)

// Config selects the tiers tracked by the per-step aggregates.
type Config struct {
	Tiers []int `json:"tiers"`
}

// SetDefaults applies default tiers.
func (c *Config) SetDefaults() {
	if len(c.Tiers) == 0 {
		c.Tiers = []int{0, 1, 2, 3}
	}
}

// Validate rejects negative or duplicated tiers.
func (c Config) Validate() error {
	seen := make(map[int]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t < 0 {
			return fmt.Errorf("tier %d must not be negative", t)
		}
		if seen[t] {
			return fmt.Errorf("tier %d configured twice", t)
		}
		seen[t] = true
	}
	return nil
}

func (c Config) sortedTiers() []int {
	tiers := append([]int(nil), c.Tiers...)
	sort.Ints(tiers)
	return tiers
}
