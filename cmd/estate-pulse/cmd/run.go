package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one discovery and ingestion pass",
	Long: `Discover articles from the configured feeds and NewsAPI, skip the ones
already stored and process the rest. This is the job the scheduler runs.

Example:
  estate-pulse run`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig(), appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.runner.Run(ctx)
	if summary != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d articles, %d new\n", summary.Discovered, summary.New)
		if summary.Result != nil {
			printResult(cmd, summary.Result)
		}
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	return nil
}
