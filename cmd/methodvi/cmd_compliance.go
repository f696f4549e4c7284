package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Merlins-Owl/Method-VI-sub002/core/compliance"
	schemavalidate "github.com/Merlins-Owl/Method-VI-sub002/core/schema/validate"
	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

var complianceFlags struct {
	runID      string
	trailPath  string
	jsonOutput bool
}

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Score process compliance from an audit trail",
	Long: "Scores the weighted compliance checklist over a run's audit trail,\n" +
		"loaded from the governance database or from an exported JSONL file.",
	RunE: runCompliance,
}

func init() {
	f := complianceCmd.Flags()
	f.StringVar(&complianceFlags.runID, "run-id", "", "Run identifier")
	f.StringVar(&complianceFlags.trailPath, "trail", "", "Score an exported JSONL trail instead of the database")
	f.BoolVar(&complianceFlags.jsonOutput, "json", false, "Emit the full result as JSON")
}

func loadTrailFromJSONL(path string) ([]schemarun.AuditEntry, error) {
	// #nosec G304 -- trail path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trail: %w", err)
	}
	if err := schemavalidate.ValidateJSONL(schemarun.AuditEntrySchemaID, content); err != nil {
		return nil, err
	}
	var entries []schemarun.AuditEntry
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry schemarun.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("parse trail entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func runCompliance(cmd *cobra.Command, _ []string) error {
	var trail []schemarun.AuditEntry
	switch {
	case complianceFlags.trailPath != "":
		loaded, err := loadTrailFromJSONL(complianceFlags.trailPath)
		if err != nil {
			return err
		}
		trail = loaded
	case complianceFlags.runID != "":
		governanceStore, err := openStore()
		if err != nil {
			return err
		}
		defer governanceStore.Close()
		loaded, err := governanceStore.LoadTrail(complianceFlags.runID)
		if err != nil {
			return err
		}
		trail = loaded
	default:
		return fmt.Errorf("either --run-id or --trail is required")
	}

	result, err := compliance.Score(trail)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if complianceFlags.jsonOutput {
		encoded, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr != nil {
			return marshalErr
		}
		fmt.Fprintln(out, string(encoded))
		return nil
	}

	fmt.Fprintf(out, "Compliance score: %.4f\n", result.Score)
	for _, category := range result.Categories {
		fmt.Fprintf(out, "  %-20s %d/%d (weight %.2f)\n",
			category.Name, category.Passed, category.Total, category.Weight)
	}
	if len(result.FailedChecks) > 0 {
		fmt.Fprintln(out, "Failed checks:")
		for _, failed := range result.FailedChecks {
			fmt.Fprintf(out, "  %s: %s\n", failed.Name, failed.Remediation)
		}
	}
	return nil
}
