package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

var validateFlags struct {
	envelopePath string
	contentPath  string
	jsonOutput   bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an artifact envelope and commit it to its run",
	Long: "Validates an artifact envelope against the run's accepted state: field\n" +
		"completeness, content hash, parent linkage, dependency existence,\n" +
		"acyclicity, and immutability. A rejection lists every violation at once.",
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateFlags.envelopePath, "envelope", "", "Path to the envelope JSON file (required)")
	f.StringVar(&validateFlags.contentPath, "content", "", "Path to the content body file (required)")
	f.BoolVar(&validateFlags.jsonOutput, "json", false, "Emit the violation list as JSON")

	_ = validateCmd.MarkFlagRequired("envelope")
	_ = validateCmd.MarkFlagRequired("content")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	// #nosec G304 -- envelope path is explicit local user input.
	envelopeJSON, err := os.ReadFile(validateFlags.envelopePath)
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}
	var envelope schemarun.Artifact
	if err := json.Unmarshal(envelopeJSON, &envelope); err != nil {
		return fmt.Errorf("parse envelope: %w", err)
	}
	// #nosec G304 -- content path is explicit local user input.
	content, err := os.ReadFile(validateFlags.contentPath)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	out := cmd.OutOrStdout()
	violations, err := governanceStore.CommitArtifact(envelope, content)
	if len(violations) > 0 {
		if validateFlags.jsonOutput {
			encoded, marshalErr := json.MarshalIndent(violations, "", "  ")
			if marshalErr != nil {
				return marshalErr
			}
			fmt.Fprintln(out, string(encoded))
		} else {
			fmt.Fprintf(out, "Artifact %s rejected with %d violation(s):\n", envelope.ArtifactID, len(violations))
			for _, violation := range violations {
				fmt.Fprintf(out, "  [%s] %s\n", violation.Code, violation.Message)
			}
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Artifact %s accepted into run %s\n", envelope.ArtifactID, envelope.RunID)
	return nil
}
