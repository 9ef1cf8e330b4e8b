package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexneg/core/steplog"
	infrakpi "github.com/kilianp07/flexneg/infra/kpi"
	"github.com/kilianp07/flexneg/jobs/energykpi"
)

var (
	kpiBackfill    bool
	kpiParticipant string
	kpiDays        int
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Show daily energy KPIs per participant",
	RunE:  runKPI,
}

func init() {
	kpiCmd.Flags().BoolVar(&kpiBackfill, "backfill", false, "rebuild the KPIs from the step log first")
	kpiCmd.Flags().StringVarP(&kpiParticipant, "participant", "p", "", "only this participant")
	kpiCmd.Flags().IntVar(&kpiDays, "days", 7, "number of days to show")
	rootCmd.AddCommand(kpiCmd)
}

func runKPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.KPI.Path == "" {
		return fmt.Errorf("kpi.path is not configured")
	}
	store, err := infrakpi.NewSQLiteStore(cfg.KPI.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if kpiBackfill {
		logs, err := steplog.Open(cfg.Logging)
		if err != nil {
			return err
		}
		recs, err := logs.Query(context.Background(), steplog.LogQuery{})
		_ = logs.Close()
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		if err := energykpi.Backfill(store, recs, cfg.Controller.StepDuration()); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "backfilled %d steps\n", len(recs))
	}

	now := time.Now()
	rows, err := store.Query(kpiParticipant, now.AddDate(0, 0, -kpiDays), now)
	if err != nil {
		return err
	}
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(out, "PARTICIPANT\tDATE\tSUPPLIED\tRECEIVED\tNET")
	for _, r := range rows {
		fmt.Fprintf(out, "%s\t%s\t%.3f\t%.3f\t%.3f\n", r.ParticipantID, r.Date.Format("2006-01-02"), r.Supplied, r.Received, r.Net())
	}
	return out.Flush()
}
