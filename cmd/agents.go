package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/infra/mqtt"
	"github.com/kilianp07/flexneg/infra/simnet"
)

var agentsClientID string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Serve the simulated agent network over MQTT",
	Long: "Runs the simulated network behind the MQTT topic tree so that a controller\n" +
		"configured with the mqtt network negotiates against it. The simulation\n" +
		"settings are read from network.conf.",
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().StringVar(&agentsClientID, "client-id", "flexneg-agents", "MQTT client id of the bridge")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings, err := network.DecodeSettings(cfg.Network.Conf)
	if err != nil {
		return fmt.Errorf("network settings: %w", err)
	}
	log := logger.New("agents")
	sim := simnet.New(settings, log)

	mcfg := cfg.MQTT
	mcfg.ClientID = agentsClientID
	bridge, err := mqtt.NewBridge(mcfg, sim, log)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	log.Infof("serving simulated agents on %s under %s/", mcfg.Broker, mcfg.Prefix)
	return bridge.Run(ctx)
}
