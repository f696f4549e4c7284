package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var thresholdFlags struct {
	runID  string
	metric string
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Resolve a metric's effective threshold under the run's mode",
	RunE:  runThreshold,
}

func init() {
	f := thresholdCmd.Flags()
	f.StringVar(&thresholdFlags.runID, "run-id", "", "Run identifier (required)")
	f.StringVar(&thresholdFlags.metric, "metric", "", "Metric name from the gate config (required)")
	_ = thresholdCmd.MarkFlagRequired("run-id")
	_ = thresholdCmd.MarkFlagRequired("metric")
}

func runThreshold(cmd *cobra.Command, _ []string) error {
	configuration, err := loadGateConfig()
	if err != nil {
		return err
	}
	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	governanceContext, err := governanceStore.Rebuild(thresholdFlags.runID, configuration)
	if err != nil {
		return err
	}
	resolved, err := governanceContext.ResolveThreshold(thresholdFlags.metric)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Metric:     %s\nBase:       %.4f\nMultiplier: %.2f\nEffective:  %.4f\n",
		resolved.Metric, resolved.Base, resolved.Multiplier, resolved.Effective)
	if resolved.Mode != "" {
		fmt.Fprintf(out, "Mode:       %s\n", resolved.Mode)
	} else {
		fmt.Fprintln(out, "Mode:       (not detected; base threshold applies)")
	}
	return nil
}
