package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
)

// Daemon repeats the lifecycle every poll interval while auto-restart is on.
// Overlapping ticks are skipped, so two lifecycles never run at once. The
// stored settings are re-read after every cycle, so a new poll interval takes
// effect from the next tick.
type Daemon struct {
	service *Service
	input   RunInput

	running sync.Mutex
	mu      sync.Mutex
	cycles  int
	lastErr error

	scheduler *cron.Cron
	job       func()
	entry     cron.EntryID
	interval  time.Duration
}

func NewDaemon(service *Service, input RunInput) *Daemon {
	return &Daemon{service: service, input: input}
}

// Run blocks until ctx is done or a finished cycle finds auto-restart off.
// The first cycle starts immediately.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if d.service == nil {
		return errors.New("service is required")
	}
	ctx = logging.WithComponent(ctx, "daemon")

	settings, err := d.service.Settings(ctx)
	if err != nil {
		return err
	}
	interval := settings.PollInterval()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	scheduler := cron.New(cron.WithChain(
		cron.Recover(cronLogger{ctx: ctx}),
		cron.SkipIfStillRunning(cronLogger{ctx: ctx}),
	))
	d.mu.Lock()
	d.scheduler = scheduler
	d.job = func() { d.cycle(runCtx, stop) }
	d.entry = 0
	d.interval = 0
	d.mu.Unlock()
	if err := d.reschedule(ctx, interval); err != nil {
		return err
	}

	logging.Info(ctx, "daemon started", slog.Duration("interval", interval), slog.Bool("auto_restart", settings.AutoRestart))
	scheduler.Start()
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		d.cycle(runCtx, stop)
	}()

	<-runCtx.Done()
	// Wait for a cycle still in flight so its session is closed before returning.
	<-scheduler.Stop().Done()
	first.Wait()
	logging.Info(ctx, "daemon stopped", slog.Int("cycles", d.Cycles()))
	return nil
}

// Cycles reports how many lifecycles the daemon has run.
func (d *Daemon) Cycles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

// Interval is the poll interval currently scheduled.
func (d *Daemon) Interval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

// LastErr is the error of the most recent cycle, if any.
func (d *Daemon) LastErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Daemon) cycle(ctx context.Context, stop context.CancelFunc) {
	if !d.running.TryLock() {
		return
	}
	defer d.running.Unlock()
	if ctx.Err() != nil {
		return
	}

	report, err := d.service.RunOnce(ctx, d.input)
	if errors.Is(err, ErrRunInProgress) {
		logging.Info(ctx, "daemon cycle skipped, another run is in progress")
		return
	}
	d.mu.Lock()
	d.cycles++
	d.lastErr = err
	d.mu.Unlock()
	if err != nil {
		logging.Warn(ctx, "daemon cycle aborted", slog.String("run_id", report.RunID), slog.Any("err", errs.Loggable(err)))
	} else {
		logging.Info(ctx, "daemon cycle finished", slog.String("run_id", report.RunID), slog.Int("processed", report.Processed))
	}

	settings, err := d.service.Settings(ctx)
	if err != nil {
		logging.Warn(ctx, "reload settings failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	if !settings.AutoRestart {
		logging.Info(ctx, "auto restart disabled, stopping daemon")
		stop()
		return
	}
	if err := d.reschedule(ctx, settings.PollInterval()); err != nil {
		logging.Warn(ctx, "reschedule failed", slog.Any("err", errs.Loggable(err)))
	}
}

// reschedule replaces the cron entry when interval differs from the current one.
func (d *Daemon) reschedule(ctx context.Context, interval time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scheduler == nil || interval == d.interval {
		return nil
	}

	schedule := fmt.Sprintf("@every %s", interval)
	entry, err := d.scheduler.AddFunc(schedule, d.job)
	if err != nil {
		return errs.Wrapf(err, "schedule %q", schedule)
	}
	if d.entry != 0 {
		d.scheduler.Remove(d.entry)
		logging.Info(ctx, "poll interval changed", slog.Duration("from", d.interval), slog.Duration("to", interval))
	}
	d.entry = entry
	d.interval = interval
	return nil
}

// cronLogger routes cron's own messages through the context logger.
type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	logging.Logger(l.ctx).DebugContext(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.Any("err", errs.Loggable(err))}, keysAndValues...)
	logging.Logger(l.ctx).ErrorContext(l.ctx, "cron: "+msg, args...)
}
