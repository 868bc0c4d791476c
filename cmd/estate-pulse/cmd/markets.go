package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	marketsTrend string
	marketsDays  int
)

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List markets and their sentiment trends",
	Long: `Show every market with readings, ranked by article count, or the trend
and daily history of one market.

Examples:
  estate-pulse markets
  estate-pulse markets --days 30
  estate-pulse markets --trend Austin`,
	RunE: runMarkets,
}

func init() {
	rootCmd.AddCommand(marketsCmd)

	marketsCmd.Flags().StringVar(&marketsTrend, "trend", "", "show the trend and daily history of one market")
	marketsCmd.Flags().IntVar(&marketsDays, "days", 7, "window length in days")
}

func runMarkets(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if marketsDays <= 0 {
		return fmt.Errorf("--days must be positive, got %d", marketsDays)
	}

	a, err := newApp(ctx, GetConfig(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if marketsTrend != "" {
		trend, err := a.trends.Trend(ctx, marketsTrend, marketsDays)
		if err != nil {
			return err
		}
		if trend.Region == "" && trend.ArticleCount == 0 {
			fmt.Fprintf(out, "No readings for %s.\n", marketsTrend)
			return nil
		}
		history, err := a.trends.History(ctx, marketsTrend, marketsDays)
		if err != nil {
			return err
		}

		topics := make([]string, len(trend.TopTopics))
		for i, tc := range trend.TopTopics {
			topics[i] = fmt.Sprintf("%s (%d)", tc.Topic, tc.Count)
		}
		fmt.Fprintf(out, "%s (%s), last %d days\n", trend.Market, trend.Region, trend.Days)
		fmt.Fprintf(out, "  Sentiment:  %+.3f (%+.3f vs previous period)\n", trend.AvgSentiment, trend.Change)
		fmt.Fprintf(out, "  Articles:   %d\n", trend.ArticleCount)
		fmt.Fprintf(out, "  Confidence: %.2f\n", trend.AvgConfidence)
		fmt.Fprintf(out, "  Topics:     %s\n\n", strings.Join(topics, ", "))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tAVG\tREADINGS")
		for _, p := range history {
			fmt.Fprintf(w, "%s\t%+.3f\t%d\n", p.Date, p.AvgSentiment, p.Count)
		}
		return w.Flush()
	}

	all, err := a.trends.AllTrends(ctx, marketsDays)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(out, "No markets yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tREGION\tARTICLES\tSENTIMENT\tCHANGE")
	for _, t := range all {
		fmt.Fprintf(w, "%s\t%s\t%d\t%+.3f\t%+.3f\n", t.Market, t.Region, t.ArticleCount, t.AvgSentiment, t.Change)
	}
	return w.Flush()
}
