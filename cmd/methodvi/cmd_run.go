package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var runFlags struct {
	runID string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage governed runs",
}

var runNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Register a new governed run",
	RunE:  runRunNew,
}

func init() {
	f := runNewCmd.Flags()
	f.StringVar(&runFlags.runID, "run-id", "", "Identifier for the new run (required)")
	_ = runNewCmd.MarkFlagRequired("run-id")

	runCmd.AddCommand(runNewCmd)
}

func runRunNew(cmd *cobra.Command, _ []string) error {
	if err := os.MkdirAll(filepath.Dir(rootFlags.dbPath), 0o750); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	if err := governanceStore.CreateRun(runFlags.runID, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s registered\n", runFlags.runID)
	return nil
}
