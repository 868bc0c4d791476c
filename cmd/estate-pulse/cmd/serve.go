package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfenderov/estate-pulse/internal/mcp"
	"github.com/mfenderov/estate-pulse/internal/metrics"
	"github.com/mfenderov/estate-pulse/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, metrics endpoint and MCP server",
	Long: `Start the long-running service:

  - the periodic ingestion trigger (scheduler.interval, default 1h)
  - the Prometheus /metrics endpoint (metrics.addr)
  - the MCP server on stdio

MCP tools:
  - search_articles, ingest_urls, trigger_ingestion, pipeline_status
  - list_articles, list_markets, market_trend
  - list_alerts, acknowledge_alert

Example:
  estate-pulse serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	a, err := newApp(ctx, cfg, appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Addr, a.registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	opts := scheduler.Options{LockTTL: cfg.Scheduler.LockTTL, Metrics: a.metrics}
	if cfg.Redis.Addr != "" {
		locker, err := scheduler.NewRedisLocker(scheduler.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect run lock: %w", err)
		}
		defer locker.Close()
		opts.Locker = locker
	}
	sched := scheduler.New(opts)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx, a.runner.Job, cfg.Scheduler.Interval); err != nil {
			return err
		}
		defer sched.Stop()
	}

	server, err := mcp.NewServer(mcp.Config{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
	}, mcp.Deps{
		Search:    a.index,
		Ingest:    a.pipeline,
		Scheduler: sched,
		Job:       a.runner.Job,
		Runs:      a.runner,
		Reader:    a.store,
		Trends:    a.trends,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	slog.Info("starting MCP server on stdio", "scheduler", cfg.Scheduler.Enabled, "interval", cfg.Scheduler.Interval)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
