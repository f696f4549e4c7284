package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Merlins-Owl/Method-VI-sub002/internal/logging"
	"github.com/Merlins-Owl/Method-VI-sub002/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance MCP server over stdio",
	Long: "Starts an MCP server over stdin/stdout. An authoring agent connects and\n" +
		"calls the governance tools directly: detect_mode, resolve_threshold,\n" +
		"submit_metrics, acknowledge, can_proceed, get_summary, score_compliance.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	configuration, err := loadGateConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(rootFlags.dbPath), 0o750); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	governanceStore, err := openStore()
	if err != nil {
		return err
	}
	defer governanceStore.Close()

	srv := mcpserver.NewServer(configuration, governanceStore)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logging.New("serve").Info("starting methodvi MCP server over stdio")
	return srv.Run(ctx, &sdkmcp.StdioTransport{})
}
