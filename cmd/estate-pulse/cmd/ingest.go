package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/estate-pulse/internal/pipeline"
)

var ingestURLs []string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Process specific article URLs",
	Long: `Fetch, analyze, index and store the given article URLs.

Each article is labelled with its host name as the source.

Examples:
  estate-pulse ingest --url https://www.housingwire.com/articles/some-story

  estate-pulse ingest --url https://a.example/1 --url https://b.example/2`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringSliceVar(&ingestURLs, "url", nil, fmt.Sprintf("article URL to process (repeatable, at most %d)", pipeline.MaxAdHocURLs))
	ingestCmd.MarkFlagRequired("url")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	urls, err := pipeline.ValidateURLs(ingestURLs)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, GetConfig(), appOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Processing %d URLs...\n", len(urls))
	result, err := a.pipeline.ProcessURLs(ctx, urls)
	if result != nil {
		printResult(cmd, result)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func printResult(cmd *cobra.Command, r *pipeline.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nIngestion complete:\n")
	fmt.Fprintf(out, "  Processed: %d\n", r.Processed)
	fmt.Fprintf(out, "  Skipped:   %d\n", r.Skipped)
	fmt.Fprintf(out, "  Failed:    %d\n", r.Failed)
	fmt.Fprintf(out, "  Chunks:    %d\n", r.Chunks)
	fmt.Fprintf(out, "  Duration:  %v\n", r.Duration)
	if len(r.Alerts) > 0 {
		fmt.Fprintf(out, "  Alerts:    %d\n", len(r.Alerts))
		for _, alert := range r.Alerts {
			fmt.Fprintf(out, "    - [%s] %s\n", alert.Severity, alert.Message)
		}
	}
}
