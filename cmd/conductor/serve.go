package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/conductor/internal/cli"
	httpAdapter "github.com/aretw0/conductor/pkg/adapters/http"
	"github.com/aretw0/conductor/pkg/adapters/rabbitmq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves the orchestrator over HTTP with server-sent events and Prometheus
metrics. With http.jwt_secret set every thread route requires a bearer token.
With rabbitmq.url set, resume requests are also consumed from the broker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		app, cleanup, err := newApp(sc, cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := []httpAdapter.Option{
			httpAdapter.WithBroadcaster(app.Broadcaster),
			httpAdapter.WithMetricsHandler(promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{})),
			httpAdapter.WithLogger(app.Logger),
			httpAdapter.WithVersion(version),
		}
		if cfg.HTTP.JWTSecret != "" {
			auth, err := httpAdapter.NewAuthenticator(cfg.HTTP.JWTSecret, cfg.HTTP.JWTIssuer)
			if err != nil {
				return err
			}
			opts = append(opts, httpAdapter.WithAuthenticator(auth))
		}

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpAdapter.NewHandler(app.Engine, opts...),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(sc)
		g.Go(func() error {
			app.Logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown did not complete in %v: %w", shutdownTimeout, err)
			}
			return nil
		})
		if app.Broker != nil {
			workers, _ := cmd.Flags().GetInt("workers")
			worker := rabbitmq.NewWorker(app.Broker.Channel(), cfg.RabbitMQ, app.Engine,
				rabbitmq.WithWorkers(workers),
				rabbitmq.WithWorkerLogger(app.Logger),
			)
			g.Go(func() error {
				app.Logger.Info("consuming resume requests", "queue", cfg.RabbitMQ.ResumeQueue)
				return worker.Run(ctx)
			})
		}

		err = g.Wait()
		if sig := sc.Signal(); sig != nil {
			app.Logger.Info("server stopped", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address, overrides http.addr")
	serveCmd.Flags().Int("workers", 4, "Concurrent RabbitMQ resume consumers")
}
