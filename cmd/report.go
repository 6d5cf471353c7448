package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketbot/internal/bootstrap"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
	"marketbot/internal/usecase/lifecycle"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show listing counters and success rate",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		stats, err := svc.Stats(ctx)
		if err != nil {
			logging.Error(ctx, "compute stats failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "compute stats")
		}
		if format != outputTable {
			return writeStructured(cmd.OutOrStdout(), format, newStatsView(stats))
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "metric\tvalue"); err != nil {
			return errs.Wrap(err, "write stats header")
		}
		rows := []struct {
			name  string
			value string
		}{
			{"total", fmt.Sprint(stats.Total)},
			{"public", fmt.Sprint(stats.Public)},
			{"visible", fmt.Sprint(stats.Visible)},
			{"pending", fmt.Sprint(stats.Pending)},
			{"processed", fmt.Sprint(stats.Processed)},
			{"failed", fmt.Sprint(stats.Failed)},
			{"success_rate", fmt.Sprintf("%.2f", stats.Success)},
		}
		for _, row := range rows {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", row.name, row.value); err != nil {
				return errs.Wrap(err, "write stats row")
			}
		}
		if err := w.Flush(); err != nil {
			return errs.Wrap(err, "flush stats output")
		}
		return nil
	}),
}

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "List tracked listings, newest first",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		items, err := svc.Listings(ctx, ports.ListingFilter{Status: listing.Status(strings.TrimSpace(status)), Limit: limit})
		if err != nil {
			logging.Error(ctx, "list listings failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list listings")
		}
		if format != outputTable {
			return writeStructured(cmd.OutOrStdout(), format, newListingViews(items))
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "item_id\tstatus\tpublic\tcategory\tstrategy\tupdated_at\ttitle"); err != nil {
			return errs.Wrap(err, "write listings header")
		}
		for _, item := range items {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
				item.ItemID,
				item.Status,
				item.IsPublic,
				firstNonEmpty(item.Category, "-"),
				firstNonEmpty(item.ProcessingStrategy, "-"),
				item.UpdatedAt.UTC().Format(time.RFC3339),
				item.Title,
			); err != nil {
				return errs.Wrap(err, "write listing row")
			}
		}
		if err := w.Flush(); err != nil {
			return errs.Wrap(err, "flush listings output")
		}
		return nil
	}),
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the action log, newest first",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		itemID, _ := cmd.Flags().GetString("item")
		limit, _ := cmd.Flags().GetInt("limit")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		entries, err := svc.Logs(ctx, ports.ActionLogFilter{RunID: runID, ItemID: itemID, Limit: limit})
		if err != nil {
			logging.Error(ctx, "list action log failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list action log")
		}
		if format != outputTable {
			return writeStructured(cmd.OutOrStdout(), format, newLogViews(entries))
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "id\ttimestamp\trun\taction\toutcome\tmessage"); err != nil {
			return errs.Wrap(err, "write logs header")
		}
		for _, entry := range entries {
			if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				entry.ID,
				entry.Timestamp.UTC().Format(time.RFC3339),
				firstNonEmpty(entry.RunID, "-"),
				entry.Action,
				entry.Outcome,
				entry.Message,
			); err != nil {
				return errs.Wrap(err, "write log row")
			}
		}
		if err := w.Flush(); err != nil {
			return errs.Wrap(err, "flush logs output")
		}
		return nil
	}),
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(statsCmd, listingsCmd, logsCmd)

	listingsCmd.Flags().String("status", "", "Status filter (pending|processed|failed)")
	listingsCmd.Flags().Int("limit", 50, "Maximum rows, 0 for all")

	logsCmd.Flags().String("run", "", "Run id filter")
	logsCmd.Flags().String("item", "", "Listing item id filter")
	logsCmd.Flags().Int("limit", 50, "Maximum rows, 0 for all")

	for _, command := range []*cobra.Command{statsCmd, listingsCmd, logsCmd} {
		addOutputFlag(command)
	}
}
