package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/conductor/internal/cli"
	"github.com/aretw0/conductor/internal/config"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Conductor orchestrates LLM agents through a staged pipeline",
	Long: `Conductor routes each request through intent routing, capability discovery,
planning, dispatch, supervision and a final answer. Threads are checkpointed
so a turn that waits for a human can be resumed later, from any replica.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default .conductor.yaml when present)")
	rootCmd.PersistentFlags().String("manifest", "", "Capability manifest, overrides the config value")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn, error or off")
	rootCmd.PersistentFlags().Bool("trace", false, "Print OpenTelemetry spans to stderr")
}

// loadConfig reads the config file and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if m, _ := cmd.Flags().GetString("manifest"); m != "" {
		cfg.Manifest = m
	}
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		cfg.LogLevel = l
	}
	return cfg, nil
}

// newApp builds the engine for commands that run turns. The returned
// cleanup flushes traces and closes connections.
func newApp(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*cli.App, func(), error) {
	opts := cli.AppOptions{}
	var tp *sdktrace.TracerProvider
	if on, _ := cmd.Flags().GetBool("trace"); on {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		opts.TracerProvider = tp
	}

	app, err := cli.NewApp(ctx, cfg, opts)
	if err != nil {
		if tp != nil {
			_ = tp.Shutdown(context.Background())
		}
		return nil, nil, err
	}
	cleanup := func() {
		if tp != nil {
			_ = tp.Shutdown(context.Background())
		}
		if err := app.Close(); err != nil {
			app.Logger.Warn("close failed", "err", err)
		}
	}
	return app, cleanup, nil
}
