package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Merlins-Owl/Method-VI-sub002/core/gateconfig"
	"github.com/Merlins-Owl/Method-VI-sub002/core/store"
	"github.com/Merlins-Owl/Method-VI-sub002/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	dbPath     string
	configPath string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "methodvi",
	Short: "Governance core for the Method VI authoring workflow",
	Long: "methodvi validates artifact envelopes, detects the run's maturity mode,\n" +
		"resolves mode-adjusted thresholds, scores process compliance, and manages\n" +
		"severity-tiered callouts for the seven-step Method VI workflow.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		level, err := parseLogLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootFlags.dbPath, "db", ".methodvi/governance.db", "Path to the governance database")
	flags.StringVar(&rootFlags.configPath, "config", gateconfig.DefaultPath, "Path to the gate configuration file")
	flags.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(thresholdCmd)
	rootCmd.AddCommand(complianceCmd)
	rootCmd.AddCommand(calloutsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}

func openStore() (*store.Store, error) {
	return store.Open(rootFlags.dbPath)
}

func loadGateConfig() (gateconfig.Config, error) {
	return gateconfig.Load(rootFlags.configPath, true)
}
