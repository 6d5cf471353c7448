package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"marketbot/internal/bootstrap"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/usecase/lifecycle"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one listing lifecycle: login, discover, make listings public, report",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		report, err := svc.RunOnce(ctx, credentialInput(cmd))
		if werr := writeRunReport(cmd, report); werr != nil {
			return werr
		}
		if err != nil {
			return errs.Wrap(err, "run lifecycle")
		}
		return nil
	}),
}

func credentialInput(cmd *cobra.Command) lifecycle.RunInput {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	return lifecycle.RunInput{Email: email, Password: password}
}

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().String("email", "", "Account email (overrides config and stored settings)")
	cmd.Flags().String("password", "", "Account password (overrides config and stored settings)")
}

func writeRunReport(cmd *cobra.Command, report lifecycle.RunReport) error {
	if _, err := fmt.Fprintf(
		cmd.OutOrStdout(),
		"run=%s state=%s attempted=%d processed=%d failed=%d early_stop=%t public=%d/%d success_rate=%.2f\n",
		report.RunID,
		report.State,
		report.Attempted,
		report.Processed,
		report.Failed,
		report.EarlyStop,
		report.Stats.Public,
		report.Stats.Total,
		report.Stats.Success,
	); err != nil {
		return errs.Wrap(err, "write run output")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	addCredentialFlags(runCmd)
}
