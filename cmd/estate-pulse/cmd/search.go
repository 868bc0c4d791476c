package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/estate-pulse/internal/mcp"
)

var (
	searchLimit  int
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search [question]",
	Short: "Semantic search over ingested articles",
	Long: `Search article passages by meaning rather than keywords.

Examples:
  # Basic search
  estate-pulse search "Are home prices falling in Austin?"

  # Limit results
  estate-pulse search "mortgage rate outlook" --limit 3

  # JSON output for scripting
  estate-pulse search "rental demand in Miami" --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchLimit, "limit", 5, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text or json")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	question, err := mcp.ValidateQuestion(strings.Join(args, " "))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, GetConfig(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.index.Search(ctx, question, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	if searchFormat == "json" {
		output, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(output))
		return nil
	}

	fmt.Fprintf(out, "Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(out, "─── Result %d (relevance %.3f) ───\n", i+1, r.Relevance)
		fmt.Fprintf(out, "Title:   %s\n", r.Title)
		fmt.Fprintf(out, "URL:     %s\n", r.URL)

		content := r.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Fprintf(out, "Content:\n%s\n\n", content)
	}
	return nil
}
