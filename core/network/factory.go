package network

import "github.com/kilianp07/flexneg/core/factory"

var registry = factory.NewRegistry[Network]()

// Register adds a network adapter factory identified by name. Factories
// receive the raw conf map, which also carries the shared Settings fields.
func Register(name string, f factory.Factory[Network]) error {
	return registry.Register(name, f)
}

// New creates the network adapter selected by cfg.Type.
func New(cfg factory.ModuleConfig) (Network, error) {
	return registry.Create(cfg)
}

// DecodeSettings extracts the shared Settings from a raw conf map and applies
// defaults.
func DecodeSettings(conf map[string]any) (Settings, error) {
	var s Settings
	if err := factory.Decode(conf, &s); err != nil {
		return s, err
	}
	s.SetDefaults()
	return s, s.Validate()
}
