package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marketbot/internal/bootstrap"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/usecase/lifecycle"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage stored run settings",
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store new run settings; omitted flags keep their current value",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		var input lifecycle.SettingsInput
		if cmd.Flags().Changed("email") {
			email, _ := cmd.Flags().GetString("email")
			input.Email = &email
		}
		if cmd.Flags().Changed("password") {
			password, _ := cmd.Flags().GetString("password")
			input.Password = &password
		}
		if cmd.Flags().Changed("auto-restart") {
			autoRestart, _ := cmd.Flags().GetBool("auto-restart")
			input.AutoRestart = &autoRestart
		}
		if cmd.Flags().Changed("poll-interval") {
			seconds, _ := cmd.Flags().GetInt("poll-interval")
			input.PollIntervalSeconds = &seconds
		}

		settings, err := svc.SaveSettings(ctx, input)
		if err != nil {
			logging.Error(ctx, "save settings failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "save settings")
		}
		return writeSettings(cmd, settings)
	}),
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest run settings",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		settings, err := svc.Settings(ctx)
		if err != nil {
			logging.Error(ctx, "load settings failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "load settings")
		}
		return writeSettings(cmd, settings)
	}),
}

func writeSettings(cmd *cobra.Command, settings listing.RunSettings) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if format != outputTable {
		return writeStructured(cmd.OutOrStdout(), format, newSettingsView(settings))
	}

	password := "-"
	if settings.Password != "" {
		password = maskedPassword
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"email", firstNonEmpty(settings.Email, "-")},
		{"password", password},
		{"auto_restart", fmt.Sprintf("%t", settings.AutoRestart)},
		{"poll_interval", settings.PollInterval().String()},
	}
	if _, err := fmt.Fprintln(w, "setting\tvalue"); err != nil {
		return errs.Wrap(err, "write settings header")
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", row[0], row[1]); err != nil {
			return errs.Wrap(err, "write settings row")
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(err, "flush settings output")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsSetCmd, settingsShowCmd)

	settingsSetCmd.Flags().String("email", "", "Account email")
	settingsSetCmd.Flags().String("password", "", "Account password")
	settingsSetCmd.Flags().Bool("auto-restart", true, "Keep the daemon repeating runs")
	settingsSetCmd.Flags().Int("poll-interval", 300, "Seconds between daemon runs")

	addOutputFlag(settingsSetCmd)
	addOutputFlag(settingsShowCmd)
}
