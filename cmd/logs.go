package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexneg/core/steplog"
	"github.com/kilianp07/flexneg/pkg/export"
)

var (
	logsParticipant string
	logsFrom        int64
	logsTo          int64
	logsSince       time.Duration
	logsFormat      string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the step log",
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVarP(&logsParticipant, "participant", "p", "", "only steps involving this participant")
	logsCmd.Flags().Int64Var(&logsFrom, "from-step", 0, "first step")
	logsCmd.Flags().Int64Var(&logsTo, "to-step", 0, "last step")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "only records newer than this")
	logsCmd.Flags().StringVarP(&logsFormat, "format", "f", "jsonl", "output format: jsonl, json, csv or html")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := steplog.Open(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	q := steplog.LogQuery{ParticipantID: logsParticipant, FromStep: logsFrom, ToStep: logsTo}
	if logsSince > 0 {
		q.Start = time.Now().Add(-logsSince)
	}
	recs, err := store.Query(context.Background(), q)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return export.Write(cmd.OutOrStdout(), logsFormat, recs)
}
