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

	"github.com/mfenderov/estate-pulse/internal/storage"
)

var (
	archiveDay  string
	archiveShow string
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse archived articles in object storage",
	Long: `List the articles archived on a day, or print one archived article as
Markdown. Requires storage.enabled.

Examples:
  # Articles archived today (UTC)
  estate-pulse archive

  # A specific day
  estate-pulse archive --day 2026-03-19

  # Print one article
  estate-pulse archive --show articles/2026/03/19/4f1c2a9e-...`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().StringVar(&archiveDay, "day", "", "UTC day to list, YYYY-MM-DD (default today)")
	archiveCmd.Flags().StringVar(&archiveShow, "show", "", "print the article archived under this prefix")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if !cfg.Storage.Enabled {
		return errors.New("storage is not enabled - set storage.enabled in the config file")
	}

	client, err := storage.New(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}

	out := cmd.OutOrStdout()
	if archiveShow != "" {
		md, err := client.GetMarkdown(ctx, archiveShow)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, md)
		return nil
	}

	day := time.Now().UTC()
	if archiveDay != "" {
		if day, err = time.Parse(time.DateOnly, archiveDay); err != nil {
			return fmt.Errorf("invalid --day %q: %w", archiveDay, err)
		}
	}

	prefixes, err := client.ListArchived(ctx, storage.DayPrefix(day))
	if err != nil {
		return err
	}
	if len(prefixes) == 0 {
		fmt.Fprintf(out, "Nothing archived on %s.\n", day.Format(time.DateOnly))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tSOURCE\tTITLE")
	for _, prefix := range prefixes {
		meta, err := client.GetMetadata(ctx, prefix)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", prefix, meta.Source, meta.Title)
	}
	return w.Flush()
}
