package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Merlins-Owl/Method-VI-sub002/core/mode"
)

var modeFlags struct {
	runID string
	score float64
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Detect or show a run's maturity mode",
}

var modeDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect the mode from the baseline coherence score (once per run)",
	RunE:  runModeDetect,
}

var modeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the run's locked mode detection",
	RunE:  runModeShow,
}

func init() {
	detectFlagSet := modeDetectCmd.Flags()
	detectFlagSet.StringVar(&modeFlags.runID, "run-id", "", "Run identifier (required)")
	detectFlagSet.Float64Var(&modeFlags.score, "score", -1, "Baseline coherence score in [0,1] (required)")
	_ = modeDetectCmd.MarkFlagRequired("run-id")
	_ = modeDetectCmd.MarkFlagRequired("score")

	showFlagSet := modeShowCmd.Flags()
	showFlagSet.StringVar(&modeFlags.runID, "run-id", "", "Run identifier (required)")
	_ = modeShowCmd.MarkFlagRequired("run-id")

	modeCmd.AddCommand(modeDetectCmd)
	modeCmd.AddCommand(modeShowCmd)
}

func runModeDetect(cmd *cobra.Command, _ []string) error {
	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	detection, err := mode.Detect(modeFlags.runID, modeFlags.score, time.Now())
	if err != nil {
		return err
	}
	if err := governanceStore.SaveModeDetection(detection); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mode:       %s\nScore:      %.4f\nConfidence: %.4f\n",
		detection.Mode, detection.BaselineScore, detection.Confidence)
	return nil
}

func runModeShow(cmd *cobra.Command, _ []string) error {
	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	detection, exists, err := governanceStore.LoadModeDetection(modeFlags.runID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !exists {
		fmt.Fprintf(out, "No mode detected yet for run %s\n", modeFlags.runID)
		return nil
	}
	fmt.Fprintf(out, "Mode:       %s\nScore:      %.4f\nConfidence: %.4f\nDetected:   %s\n",
		detection.Mode, detection.BaselineScore, detection.Confidence,
		detection.DetectedAt.Format(time.RFC3339))
	return nil
}
