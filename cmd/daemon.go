package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"marketbot/internal/bootstrap"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/infrastructure/filewatch"
	"marketbot/internal/usecase/lifecycle"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Repeat the lifecycle every poll interval while auto-restart is enabled",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		daemonCtx, cancel := context.WithCancel(ctx)
		var watchers sync.WaitGroup
		defer watchers.Wait()
		defer cancel()
		startPlaybookWatch(daemonCtx, app, svc, &watchers)

		daemon := lifecycle.NewDaemon(svc, credentialInput(cmd))
		if err := daemon.Run(daemonCtx); err != nil {
			logging.Error(ctx, "daemon failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "run daemon")
		}

		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "daemon stopped after %d cycle(s)\n", daemon.Cycles()); err != nil {
			return errs.Wrap(err, "write daemon output")
		}
		return nil
	}),
}

// startPlaybookWatch reloads the playbook overlay into svc whenever the file
// changes, until ctx is done. A broken edit keeps the previous playbook.
func startPlaybookWatch(ctx context.Context, app *bootstrap.App, svc *lifecycle.Service, wg *sync.WaitGroup) {
	path := strings.TrimSpace(app.Config.Marketplace.Playbook)
	if path == "" || !app.Config.Marketplace.WatchPlaybook {
		return
	}

	watcher, err := filewatch.New(path, 0, func(ctx context.Context) {
		if err := svc.ReloadPlaybook(path); err != nil {
			logging.Warn(ctx, "playbook reload rejected, keeping the previous one", slog.Any("err", errs.Loggable(err)))
			return
		}
		logging.Info(ctx, "playbook reloaded")
	})
	if err != nil {
		logging.Warn(ctx, "playbook watch disabled", slog.Any("err", errs.Loggable(err)))
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil {
			logging.Warn(ctx, "playbook watch stopped", slog.Any("err", errs.Loggable(err)))
		}
	}()
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	addCredentialFlags(daemonCmd)
}
