package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"marketbot/internal/bootstrap"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/usecase/console"
	"marketbot/internal/usecase/lifecycle"
)

var consoleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Start the live status console",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		logLimit, _ := cmd.Flags().GetInt("logs")

		model := console.NewStatusModel(ctx, svc, console.StatusOptions{
			RefreshInterval: refreshInterval,
			LogLimit:        logLimit,
		})

		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run status console")
		}
		return nil
	}),
}

func init() {
	consoleCmd.AddCommand(consoleStatusCmd)
	consoleStatusCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
	consoleStatusCmd.Flags().Int("logs", 10, "Recent action log lines to show")
}
