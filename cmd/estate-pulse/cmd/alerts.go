package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfenderov/estate-pulse/internal/store"
)

var (
	alertsAck   string
	alertsAll   bool
	alertsLimit int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List or acknowledge sentiment shift alerts",
	Long: `List unacknowledged sentiment shift alerts, newest first.

Examples:
  estate-pulse alerts
  estate-pulse alerts --all --limit 50
  estate-pulse alerts --ack 4f1c2a9e-...`,
	RunE: runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)

	alertsCmd.Flags().StringVar(&alertsAck, "ack", "", "acknowledge the alert with this ID")
	alertsCmd.Flags().BoolVar(&alertsAll, "all", false, "include acknowledged alerts")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "maximum number of alerts")
}

func runAlerts(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, GetConfig(), appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if alertsAck != "" {
		if err := a.store.AcknowledgeAlert(ctx, alertsAck); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("alert %s not found", alertsAck)
			}
			return err
		}
		fmt.Fprintf(out, "Acknowledged %s\n", alertsAck)
		return nil
	}

	alerts, err := a.store.ListAlerts(ctx, !alertsAll, alertsLimit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRIGGERED\tMARKET\tSEVERITY\tACK\tMESSAGE")
	for _, al := range alerts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			al.ID, al.TriggeredAt.Local().Format(time.DateTime), al.Market, al.Severity, al.Acknowledged, al.Message)
	}
	return w.Flush()
}
