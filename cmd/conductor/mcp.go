package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aretw0/conductor/internal/cli"
	"github.com/aretw0/conductor/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the orchestrator as MCP tools (invoke, resume, list_nodes) and
resources (conductor://nodes, conductor://threads/{thread_id}).

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.MCP.Addr = addr
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		app, cleanup, err := newApp(sc, cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		srv := mcp.NewServer(app.Engine, version, mcp.WithLogger(app.Logger))
		switch transport {
		case "stdio":
			// stdout carries JSON-RPC
			log.SetOutput(os.Stderr)
			app.Logger.Info("starting MCP server", "transport", transport)
			return srv.ServeStdio()
		case "sse":
			app.Logger.Info("starting MCP server", "transport", transport, "addr", cfg.MCP.Addr)
			return srv.ServeSSE(sc, cfg.MCP.Addr, cfg.MCP.BaseURL)
		default:
			return fmt.Errorf("unknown transport %q, supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", "", "Listen address for SSE, overrides mcp.addr")
}
