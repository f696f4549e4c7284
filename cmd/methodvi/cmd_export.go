package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Merlins-Owl/Method-VI-sub002/core/fsx"
)

var exportFlags struct {
	runID   string
	outPath string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's audit trail as JSONL",
	Long: "Writes the run's hash-chained audit trail to a JSONL file, one entry\n" +
		"per line, atomically. The export validates against the audit entry\n" +
		"schema and can be re-verified offline.",
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.runID, "run-id", "", "Run identifier (required)")
	f.StringVar(&exportFlags.outPath, "out", "", "Output JSONL path (required)")
	_ = exportCmd.MarkFlagRequired("run-id")
	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, _ []string) error {
	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	trail, err := governanceStore.LoadTrail(exportFlags.runID)
	if err != nil {
		return err
	}
	if len(trail) == 0 {
		return fmt.Errorf("run %s has no audit entries to export", exportFlags.runID)
	}

	lines := make([][]byte, 0, len(trail))
	for _, entry := range trail {
		line, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			return fmt.Errorf("marshal entry %d: %w", entry.Seq, marshalErr)
		}
		lines = append(lines, line)
	}
	if err := fsx.WriteJSONLAtomic(exportFlags.outPath, lines, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(trail), exportFlags.outPath)
	return nil
}
