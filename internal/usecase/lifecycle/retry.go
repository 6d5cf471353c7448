package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

type AttemptOutcome int

const (
	AttemptSuccess AttemptOutcome = iota
	AttemptRecoverable
	AttemptFatal
)

func (o AttemptOutcome) String() string {
	switch o {
	case AttemptSuccess:
		return "success"
	case AttemptRecoverable:
		return "recoverable"
	case AttemptFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Attempt struct {
	Outcome AttemptOutcome
	Err     error
}

func Succeeded() Attempt            { return Attempt{Outcome: AttemptSuccess} }
func Recoverable(err error) Attempt { return Attempt{Outcome: AttemptRecoverable, Err: err} }
func Fatal(err error) Attempt       { return Attempt{Outcome: AttemptFatal, Err: err} }

// Classify maps an operation error onto the three-way outcome. Driver faults,
// store consistency errors and cancellation are fatal; everything else is
// worth another attempt.
func Classify(err error) Attempt {
	switch {
	case err == nil:
		return Succeeded()
	case ports.IsDriverFault(err),
		errors.Is(err, ports.ErrListingNotFound),
		errors.Is(err, context.Canceled):
		return Fatal(err)
	default:
		return Recoverable(err)
	}
}

type ResultStatus int

const (
	ResultSuccess ResultStatus = iota
	ResultFailure
	ResultFatal
)

type Result struct {
	Class    string
	Status   ResultStatus
	Attempts int
	Err      error
}

func (r Result) OK() bool    { return r.Status == ResultSuccess }
func (r Result) Fatal() bool { return r.Status == ResultFatal }

// Operation runs one attempt; attempt starts at 1.
type Operation func(ctx context.Context, attempt int) Attempt

var defaultPolicy = RetryPolicy{MaxAttempts: 1, Backoff: BackoffFixed}

type RetryEngine struct {
	policies map[string]RetryPolicy
	selector StrategySelector
	sleep    Sleeper
}

func NewRetryEngine(policies map[string]RetryPolicy, selector StrategySelector, sleep Sleeper) *RetryEngine {
	if selector == nil {
		selector = NewDefaultSelector()
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &RetryEngine{policies: policies, selector: selector, sleep: sleep}
}

func (e *RetryEngine) policy(class string) RetryPolicy {
	policy, ok := e.policies[class]
	if !ok || policy.MaxAttempts < 1 {
		return defaultPolicy
	}
	return policy
}

// Execute runs op under the policy for class. It never sleeps after the last
// attempt, and ctx ending at any point yields a fatal result.
func (e *RetryEngine) Execute(ctx context.Context, class string, op Operation) Result {
	policy := e.policy(class)
	result := Result{Class: class, Status: ResultFailure}

	var lastErr error
	var previousDelay time.Duration
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.fatal(result, errs.Wrap(err, "retry "+class))
		}

		result.Attempts = attempt
		outcome := op(ctx, attempt)
		switch outcome.Outcome {
		case AttemptSuccess:
			result.Status = ResultSuccess
			result.Err = nil
			return result
		case AttemptFatal:
			return e.fatal(result, outcome.Err)
		}

		lastErr = outcome.Err
		if attempt == policy.MaxAttempts {
			break
		}

		delay := e.backoff(policy, class, attempt, previousDelay)
		previousDelay = delay
		logging.Debug(ctx, "operation failed, backing off",
			slog.String("class", class),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("err", errs.Loggable(lastErr)),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return e.fatal(result, errs.Wrap(err, "retry "+class+" backoff"))
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no attempt succeeded")
	}
	result.Err = fmt.Errorf("%s: %d attempt(s) exhausted: %w", class, result.Attempts, lastErr)
	return result
}

// backoff scales the policy delay by the selector's choice and keeps the
// schedule non-decreasing.
func (e *RetryEngine) backoff(policy RetryPolicy, class string, attempt int, previous time.Duration) time.Duration {
	delay := policy.Delay(attempt)
	choice := e.selector.ChooseStrategy(SelectionContext{Purpose: PurposeBackoff, Class: class, Attempt: attempt})
	if choice == StrategyExtendedBackoff {
		delay *= 2
	}
	if delay < previous {
		delay = previous
	}
	return delay
}

func (e *RetryEngine) fatal(result Result, err error) Result {
	result.Status = ResultFatal
	result.Err = err
	return result
}
