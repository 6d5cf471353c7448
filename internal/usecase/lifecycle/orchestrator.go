package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

type State string

const (
	StateNotStarted  State = "NotStarted"
	StateDriverReady State = "DriverReady"
	StateLoggedIn    State = "LoggedIn"
	StateDiscovering State = "Discovering"
	StateProcessing  State = "Processing"
	StateReporting   State = "Reporting"
	StateDone        State = "Done"
	StateAborted     State = "Aborted"
)

// ErrRunAborted wraps the cause of every run that ends in StateAborted.
var ErrRunAborted = errors.New("run aborted")

// Store groups the persistence ports a run writes to. Settings and
// UnitOfWork are optional; discovery upserts share one transaction when a
// UnitOfWork is set.
type Store struct {
	Listings   ports.ListingRepository
	Logs       ports.ActionLogRepository
	Runs       ports.RunRepository
	Settings   ports.SettingsRepository
	UnitOfWork ports.UnitOfWork
}

type Options struct {
	Playbook   Playbook
	Selector   StrategySelector
	Classifier Classifier
	Delay      DelayFunc
	Sleep      Sleeper
	Now        func() time.Time
	NewRunID   func() string
}

type RunConfig struct {
	Email    string
	Password string
	Driver   ports.DriverConfig
	// MaxConsecutiveFailures stops processing early once reached; 0 disables it.
	MaxConsecutiveFailures int
}

type RunReport struct {
	RunID     string
	State     State
	Attempted int
	Processed int
	Failed    int
	EarlyStop bool
	Stats     listing.Stats
}

type Orchestrator struct {
	// mu is held for reading by a run and for writing by UsePlaybook, so a
	// new playbook only applies between runs.
	mu sync.RWMutex

	driver     ports.Driver
	store      Store
	sink       ports.ReportingSink
	playbook   Playbook
	selector   StrategySelector
	classifier Classifier
	price      *regexp.Regexp
	delay      DelayFunc
	sleep      Sleeper
	retry      *RetryEngine
	resolver   *Resolver
	now        func() time.Time
	newRunID   func() string

	fixedClassifier bool
	fixedDelay      bool
}

func NewOrchestrator(driver ports.Driver, store Store, sink ports.ReportingSink, opts Options) (*Orchestrator, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}
	if store.Listings == nil || store.Logs == nil || store.Runs == nil {
		return nil, errors.New("listing, action log and run repositories are required")
	}
	if sink == nil {
		sink = nopSink{}
	}

	playbook := opts.Playbook
	if playbook.Version == 0 {
		playbook = DefaultPlaybook()
	}
	if err := playbook.Validate(); err != nil {
		return nil, errs.Wrap(err, "validate playbook")
	}

	selector := opts.Selector
	if selector == nil {
		selector = NewDefaultSelector()
	}
	classifier := opts.Classifier
	if classifier == nil {
		keyword, err := NewKeywordClassifier(playbook.Categories)
		if err != nil {
			return nil, err
		}
		classifier = keyword
	}
	price, err := compilePrice(playbook.Price)
	if err != nil {
		return nil, err
	}
	delay := opts.Delay
	if delay == nil {
		delay = JitteredDelay(playbook.Delays, nil)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newRunID := opts.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	return &Orchestrator{
		driver:     driver,
		store:      store,
		sink:       sink,
		playbook:   playbook,
		selector:   selector,
		classifier: classifier,
		price:      price,
		delay:      delay,
		sleep:      sleep,
		retry:      NewRetryEngine(playbook.Retry, selector, sleep),
		resolver:   NewResolver(playbook, selector, sleep),
		now:        now,
		newRunID:   newRunID,

		fixedClassifier: opts.Classifier != nil,
		fixedDelay:      opts.Delay != nil,
	}, nil
}

// UsePlaybook swaps the playbook for subsequent runs. It waits for an
// in-flight run to finish. Classifier and delay given in Options are kept.
func (o *Orchestrator) UsePlaybook(playbook Playbook) error {
	if err := playbook.Validate(); err != nil {
		return errs.Wrap(err, "validate playbook")
	}
	var classifier Classifier
	if !o.fixedClassifier {
		keyword, err := NewKeywordClassifier(playbook.Categories)
		if err != nil {
			return err
		}
		classifier = keyword
	}
	price, err := compilePrice(playbook.Price)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.playbook = playbook
	if classifier != nil {
		o.classifier = classifier
	}
	o.price = price
	if !o.fixedDelay {
		o.delay = JitteredDelay(playbook.Delays, nil)
	}
	o.retry = NewRetryEngine(playbook.Retry, o.selector, o.sleep)
	o.resolver = NewResolver(playbook, o.selector, o.sleep)
	return nil
}

// Playbook returns the playbook the next run will use.
func (o *Orchestrator) Playbook() Playbook {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.playbook
}

type nopSink struct{}

func (nopSink) Post(context.Context, ports.EventKind, any) bool { return false }

type run struct {
	report              RunReport
	consecutiveFailures int
}

func (r *run) transition(to State) {
	r.report.State = to
}

// Run drives one lifecycle to Done or Aborted. The driver session, once
// started, is closed exactly once on every path. An aborted run returns an
// error wrapping both ErrRunAborted and the cause.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (RunReport, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	r := &run{report: RunReport{RunID: o.newRunID(), State: StateNotStarted}}
	ctx = logging.WithAttrs(ctx, slog.String("run_id", r.report.RunID))

	o.beginRun(ctx, r)

	err := o.execute(ctx, r, cfg)

	// The final transition and the run record must land even when ctx was
	// cancelled mid-run.
	doneCtx := context.WithoutCancel(ctx)
	if err != nil {
		logging.Error(doneCtx, "run aborted", slog.String("state", string(r.report.State)), slog.Any("err", errs.Loggable(err)))
		o.moveTo(doneCtx, r, StateAborted, listing.OutcomeError, err.Error())
		o.finishRun(doneCtx, r, err.Error())
		return r.report, fmt.Errorf("%w: %w", ErrRunAborted, err)
	}

	o.moveTo(doneCtx, r, StateDone, listing.OutcomeSuccess, "")
	logging.Info(ctx, "run finished",
		slog.Int("attempted", r.report.Attempted),
		slog.Int("processed", r.report.Processed),
		slog.Int("failed", r.report.Failed),
		slog.Bool("early_stop", r.report.EarlyStop),
	)
	o.finishRun(doneCtx, r, "")
	return r.report, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, cfg RunConfig) error {
	if strings.TrimSpace(cfg.Email) == "" || cfg.Password == "" {
		return listing.ErrNoCredential
	}

	session, err := o.driver.Start(ctx, cfg.Driver)
	if err != nil {
		return errs.Wrap(err, "start driver")
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logging.Warn(ctx, "close driver session failed", slog.Any("err", errs.Loggable(closeErr)))
		}
	}()
	o.moveTo(ctx, r, StateDriverReady, listing.OutcomeSuccess, "")

	if err := o.login(ctx, session, cfg); err != nil {
		return err
	}
	o.moveTo(ctx, r, StateLoggedIn, listing.OutcomeSuccess, "")

	o.moveTo(ctx, r, StateDiscovering, listing.OutcomeStarted, "")
	pending, err := o.discover(ctx, session)
	if err != nil {
		return err
	}

	o.moveTo(ctx, r, StateProcessing, listing.OutcomeStarted, fmt.Sprintf("%d pending listing(s)", len(pending)))
	if err := o.processAll(ctx, r, session, pending, cfg.MaxConsecutiveFailures); err != nil {
		return err
	}

	o.moveTo(ctx, r, StateReporting, listing.OutcomeStarted, "")
	o.reportStats(ctx, r)
	return nil
}

func (o *Orchestrator) processAll(ctx context.Context, r *run, session ports.Session, pending []listing.Listing, maxConsecutive int) error {
	for i := range pending {
		item := pending[i]
		if i > 0 {
			if err := o.pace(ctx, r); err != nil {
				return err
			}
		}

		itemCtx := logging.WithAttrs(ctx, slog.String("item_id", item.ItemID), slog.Int("index", i))
		r.report.Attempted++
		status, err := o.processListing(itemCtx, r, session, item)
		switch status {
		case listing.StatusProcessed:
			r.report.Processed++
			r.consecutiveFailures = 0
		case listing.StatusFailed:
			r.report.Failed++
			r.consecutiveFailures++
		}
		if err != nil {
			return err
		}

		if status == listing.StatusFailed && maxConsecutive > 0 && r.consecutiveFailures >= maxConsecutive {
			r.report.EarlyStop = true
			msg := fmt.Sprintf("%d consecutive failures, stopping after %d of %d listing(s)", r.consecutiveFailures, i+1, len(pending))
			logging.Warn(ctx, "early stop", slog.Int("consecutive_failures", r.consecutiveFailures))
			o.audit(ctx, r, nil, "early_stop", listing.OutcomeWarning, msg)
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) pace(ctx context.Context, r *run) error {
	kind := DelayNormal
	choice := o.selector.ChooseStrategy(SelectionContext{Purpose: PurposePacing, ConsecutiveFailures: r.consecutiveFailures})
	if choice == StrategyPaceSlow {
		kind = DelaySlow
	}
	return o.pause(ctx, kind)
}

func (o *Orchestrator) pause(ctx context.Context, kind DelayKind) error {
	if err := o.sleep(ctx, o.delay(kind)); err != nil {
		return errs.Wrap(err, "pause")
	}
	return nil
}

func (o *Orchestrator) reportStats(ctx context.Context, r *run) {
	stats, err := o.store.Listings.ComputeStats(ctx)
	if err != nil {
		logging.Warn(ctx, "compute stats failed", slog.Any("err", errs.Loggable(err)))
		o.audit(ctx, r, nil, "report", listing.OutcomeWarning, err.Error())
		return
	}
	r.report.Stats = stats
	o.sink.Post(ctx, ports.EventUpdateStats, stats)
	o.audit(ctx, r, nil, "report", listing.OutcomeSuccess,
		fmt.Sprintf("total=%d public=%d pending=%d success_rate=%.2f", stats.Total, stats.Public, stats.Pending, stats.Success))
}

func (o *Orchestrator) moveTo(ctx context.Context, r *run, to State, outcome listing.Outcome, detail string) {
	from := r.report.State
	r.transition(to)

	msg := string(from) + " -> " + string(to)
	if detail != "" {
		msg += ": " + detail
	}
	logging.Info(ctx, "state transition", slog.String("from", string(from)), slog.String("to", string(to)))
	o.audit(ctx, r, nil, "transition", outcome, msg)
}

func (o *Orchestrator) beginRun(ctx context.Context, r *run) {
	if err := o.store.Runs.CreateRun(ctx, r.report.RunID, o.now()); err != nil {
		logging.Warn(ctx, "record run start failed", slog.Any("err", errs.Loggable(err)))
	}
	if o.store.Settings != nil {
		if err := o.store.Settings.SetRunning(ctx, true); err != nil {
			logging.Warn(ctx, "mark running failed", slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, r *run, message string) {
	finishedAt := o.now()
	record := ports.RunRecord{
		RunID:      r.report.RunID,
		State:      string(r.report.State),
		FinishedAt: &finishedAt,
		Attempted:  r.report.Attempted,
		Processed:  r.report.Processed,
		Failed:     r.report.Failed,
		EarlyStop:  r.report.EarlyStop,
		Message:    message,
	}
	if err := o.store.Runs.FinishRun(ctx, record); err != nil {
		logging.Warn(ctx, "record run finish failed", slog.Any("err", errs.Loggable(err)))
	}
	if o.store.Settings != nil {
		if err := o.store.Settings.SetRunning(ctx, false); err != nil {
			logging.Warn(ctx, "clear running failed", slog.Any("err", errs.Loggable(err)))
		}
	}
}

// audit appends to the action log and mirrors the entry to the sink. Failures
// only reach the process log.
func (o *Orchestrator) audit(ctx context.Context, r *run, ref *uint64, action string, outcome listing.Outcome, message string) {
	entry := listing.ActionLogEntry{
		RunID:      r.report.RunID,
		ListingRef: ref,
		Action:     action,
		Outcome:    outcome,
		Message:    message,
		Timestamp:  o.now(),
	}
	if err := o.store.Logs.AppendLog(ctx, entry); err != nil {
		logging.Warn(ctx, "append action log failed", slog.String("action", action), slog.Any("err", errs.Loggable(err)))
	}
	o.sink.Post(ctx, ports.EventAddLog, logPayload(entry))
}
