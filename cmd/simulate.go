package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexneg/core/step"
	"github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/qa/scenarios"
)

var simulateQuiet bool

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a scenario against the simulated network",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().BoolVarP(&simulateQuiet, "quiet", "q", false, "only print mismatches")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sc, err := scenarios.Load(args[0])
	if err != nil {
		return err
	}
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if !simulateQuiet {
		fmt.Fprintln(out, "STEP\tCLOCK\tREQUESTED\tNEGOTIATED\tMESSAGES\tRESTARTS\tRUNTIME")
	}
	res, err := scenarios.Run(ctx, sc, scenarios.Options{
		Log: logger.New("simulate"),
		OnStep: func(i int, rep *step.Report) {
			if simulateQuiet {
				return
			}
			if rep.Skipped {
				fmt.Fprintf(out, "%d\t-\tskipped\t\t\t\t\n", i+1)
				return
			}
			fmt.Fprintf(out, "%d\t%d\t%.3f\t%.3f\t%d\t%d\t%s\n",
				rep.Step, rep.Clock, rep.Requested, rep.Negotiated, rep.MessagesSent, rep.Round.Restarts, rep.Runtime)
		},
	})
	if ferr := out.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	for _, m := range res.Mismatches {
		fmt.Fprintln(cmd.ErrOrStderr(), m)
	}
	if !res.OK() {
		return fmt.Errorf("scenario %s: %d expectations not met", sc.Name, len(res.Mismatches))
	}
	return nil
}
