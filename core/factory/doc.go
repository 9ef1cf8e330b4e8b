// Package factory provides the generic registry used to instantiate
// pluggable modules (network adapters, metrics sinks) from configuration.
// A module is selected by a type string and configured by a raw map that the
// factory decodes into its own typed struct.
//
//	reg := factory.NewRegistry[network.Network]()
//	reg.Register("sim", func(conf map[string]any) (network.Network, error) {
//	    var c struct{ Topology string `json:"topology"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return simnet.New(c.Topology)
//	})
//	n, err := reg.Create(factory.ModuleConfig{Type: "sim"})
package factory
