package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Merlins-Owl/Method-VI-sub002/core/governance"
	"github.com/Merlins-Owl/Method-VI-sub002/core/store"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

var calloutsFlags struct {
	runID        string
	calloutID    string
	all          bool
	confirmation string
	step         int
	resultsPath  string
}

var calloutsCmd = &cobra.Command{
	Use:   "callouts",
	Short: "List and acknowledge a run's callouts",
}

var calloutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the run's callouts and the proceed verdict",
	RunE:  runCalloutsList,
}

var calloutsAckCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge a blocking callout",
	RunE:  runCalloutsAck,
}

var calloutsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate callouts from a file of classified metric results",
	RunE:  runCalloutsGenerate,
}

var calloutsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the run's callout summary",
	RunE:  runCalloutsSummary,
}

var calloutsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List blocking callouts still awaiting acknowledgment",
	RunE:  runCalloutsPending,
}

func init() {
	listFlagSet := calloutsListCmd.Flags()
	listFlagSet.StringVar(&calloutsFlags.runID, "run-id", "", "Run identifier (required)")
	_ = calloutsListCmd.MarkFlagRequired("run-id")

	ackFlagSet := calloutsAckCmd.Flags()
	ackFlagSet.StringVar(&calloutsFlags.runID, "run-id", "", "Run identifier (required)")
	ackFlagSet.StringVar(&calloutsFlags.calloutID, "callout-id", "", "Callout to acknowledge")
	ackFlagSet.BoolVar(&calloutsFlags.all, "all", false, "Acknowledge every pending blocking callout")
	ackFlagSet.StringVar(&calloutsFlags.confirmation, "confirmation", "", "Reviewer confirmation text (required)")
	_ = calloutsAckCmd.MarkFlagRequired("run-id")
	_ = calloutsAckCmd.MarkFlagRequired("confirmation")

	generateFlagSet := calloutsGenerateCmd.Flags()
	generateFlagSet.StringVar(&calloutsFlags.runID, "run-id", "", "Run identifier (required)")
	generateFlagSet.IntVar(&calloutsFlags.step, "step", 0, "Workflow step the metrics were evaluated at (required)")
	generateFlagSet.StringVar(&calloutsFlags.resultsPath, "results", "", "Path to a JSON array of metric results (required)")
	_ = calloutsGenerateCmd.MarkFlagRequired("run-id")
	_ = calloutsGenerateCmd.MarkFlagRequired("step")
	_ = calloutsGenerateCmd.MarkFlagRequired("results")

	summaryFlagSet := calloutsSummaryCmd.Flags()
	summaryFlagSet.StringVar(&calloutsFlags.runID, "run-id", "", "Run identifier (required)")
	_ = calloutsSummaryCmd.MarkFlagRequired("run-id")

	pendingFlagSet := calloutsPendingCmd.Flags()
	pendingFlagSet.StringVar(&calloutsFlags.runID, "run-id", "", "Run identifier (required)")
	_ = calloutsPendingCmd.MarkFlagRequired("run-id")

	calloutsCmd.AddCommand(calloutsListCmd)
	calloutsCmd.AddCommand(calloutsAckCmd)
	calloutsCmd.AddCommand(calloutsGenerateCmd)
	calloutsCmd.AddCommand(calloutsSummaryCmd)
	calloutsCmd.AddCommand(calloutsPendingCmd)
}

func rebuildRunContext() (*store.Store, *governance.Context, error) {
	configuration, err := loadGateConfig()
	if err != nil {
		return nil, nil, err
	}
	governanceStore, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	governanceContext, err := governanceStore.Rebuild(calloutsFlags.runID, configuration)
	if err != nil {
		_ = governanceStore.Close()
		return nil, nil, err
	}
	return governanceStore, governanceContext, nil
}

func runCalloutsList(cmd *cobra.Command, _ []string) error {
	governanceStore, governanceContext, err := rebuildRunContext()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	out := cmd.OutOrStdout()
	callouts := governanceContext.Callouts()
	if len(callouts) == 0 {
		fmt.Fprintf(out, "No callouts for run %s\n", calloutsFlags.runID)
		return nil
	}
	for _, entry := range callouts {
		acknowledged := " "
		if entry.Acknowledged {
			acknowledged = "✓"
		}
		fmt.Fprintf(out, "[%s] %-13s step %d  %-24s %.4f  %s\n",
			acknowledged, entry.Tier, entry.Step, entry.Metric, entry.Value, entry.CalloutID)
	}
	decision := governanceContext.CanProceed()
	if decision.Allowed {
		fmt.Fprintln(out, "Proceed: yes")
	} else {
		fmt.Fprintf(out, "Proceed: no (%s)\n", decision.Message)
	}
	return nil
}

func runCalloutsAck(cmd *cobra.Command, _ []string) error {
	if !calloutsFlags.all && calloutsFlags.calloutID == "" {
		return fmt.Errorf("--callout-id is required unless --all is set")
	}
	governanceStore, governanceContext, err := rebuildRunContext()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	out := cmd.OutOrStdout()
	if calloutsFlags.all {
		count := governanceContext.AcknowledgeAll(calloutsFlags.confirmation)
		fmt.Fprintf(out, "Acknowledged %d callout(s)\n", count)
	} else {
		if _, err := governanceContext.Acknowledge(calloutsFlags.calloutID, calloutsFlags.confirmation); err != nil {
			return err
		}
		fmt.Fprintf(out, "Acknowledged %s\n", calloutsFlags.calloutID)
	}
	if err := governanceStore.SaveCallouts(governanceContext.Callouts()); err != nil {
		return err
	}
	if governanceContext.CanProceed().Allowed {
		fmt.Fprintln(out, "Proceed: yes")
	} else {
		fmt.Fprintln(out, "Proceed: no")
	}
	return nil
}

func runCalloutsGenerate(cmd *cobra.Command, _ []string) error {
	// #nosec G304 -- results path is explicit local user input.
	resultsJSON, err := os.ReadFile(calloutsFlags.resultsPath)
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}
	var results []schemarun.MetricResult
	if err := json.Unmarshal(resultsJSON, &results); err != nil {
		return fmt.Errorf("parse results: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("results file is empty")
	}
	if calloutsFlags.step < schemarun.StepMin || calloutsFlags.step > schemarun.StepMax {
		return fmt.Errorf("step %d outside [%d,%d]", calloutsFlags.step, schemarun.StepMin, schemarun.StepMax)
	}

	governanceStore, governanceContext, err := rebuildRunContext()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	generated := governanceContext.EvaluateMetrics(results, calloutsFlags.step)
	if err := governanceStore.SaveCallouts(governanceContext.Callouts()); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, entry := range generated {
		fmt.Fprintf(out, "%-13s %-24s %.4f  %s\n", entry.Tier, entry.Metric, entry.Value, entry.CalloutID)
	}
	return nil
}

func runCalloutsSummary(cmd *cobra.Command, _ []string) error {
	governanceStore, governanceContext, err := rebuildRunContext()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	summary := governanceContext.Summary()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:          %d\n", summary.Total)
	for _, tier := range []schemarun.Tier{
		schemarun.TierInformational, schemarun.TierMinor, schemarun.TierImportant, schemarun.TierBlocking,
	} {
		fmt.Fprintf(out, "  %-13s %d\n", tier, summary.ByTier[tier])
	}
	fmt.Fprintf(out, "Pending acks:   %d\n", summary.PendingAck)
	fmt.Fprintf(out, "Unique metrics: %d\n", summary.UniqueMetrics)
	fmt.Fprintf(out, "Can proceed:    %v\n", summary.CanProceed)
	return nil
}

func runCalloutsPending(cmd *cobra.Command, _ []string) error {
	governanceStore, governanceContext, err := rebuildRunContext()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	decision := governanceContext.CanProceed()
	out := cmd.OutOrStdout()
	if decision.Allowed {
		fmt.Fprintln(out, "No blocking callouts pending")
		return nil
	}
	for _, entry := range decision.PendingBlocking {
		fmt.Fprintf(out, "step %d  %-24s %.4f  %s\n", entry.Step, entry.Metric, entry.Value, entry.CalloutID)
	}
	return nil
}
