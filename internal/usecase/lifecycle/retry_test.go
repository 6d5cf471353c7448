package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketbot/internal/ports"
)

func testPolicies() map[string]RetryPolicy {
	return map[string]RetryPolicy{
		ClassLogin:      {MaxAttempts: 3, Backoff: BackoffLinear, BaseMillis: 10},
		ClassNavigation: {MaxAttempts: 5, Backoff: BackoffFixed, BaseMillis: 5},
		ClassListing:    {MaxAttempts: 2, Backoff: BackoffFixed, BaseMillis: 0},
	}
}

func TestExecuteRespectsMaxAttemptsWithoutTrailingSleep(t *testing.T) {
	sleeps := &sleepRecorder{}
	engine := NewRetryEngine(testPolicies(), nil, sleeps.Sleep)

	calls := 0
	result := engine.Execute(context.Background(), ClassLogin, func(context.Context, int) Attempt {
		calls++
		return Recoverable(errors.New("not yet"))
	})

	if calls != 3 {
		t.Fatalf("op calls = %d, want 3", calls)
	}
	if result.OK() || result.Fatal() || result.Attempts != 3 {
		t.Fatalf("result = %+v, want exhausted failure after 3 attempts", result)
	}
	if result.Err == nil || result.Err.Error() != "login: 3 attempt(s) exhausted: not yet" {
		t.Fatalf("result.Err = %v", result.Err)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	got := sleeps.nonZero()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", got, want)
		}
	}
}

func TestExecuteFatalShortCircuits(t *testing.T) {
	sleeps := &sleepRecorder{}
	engine := NewRetryEngine(testPolicies(), nil, sleeps.Sleep)
	fault := ports.NewDriverFault("click", errors.New("tab crashed"))

	calls := 0
	result := engine.Execute(context.Background(), ClassNavigation, func(_ context.Context, attempt int) Attempt {
		calls++
		if attempt == 2 {
			return Classify(fault)
		}
		return Recoverable(errors.New("slow page"))
	})

	if calls != 2 {
		t.Fatalf("op calls = %d, want 2", calls)
	}
	if !result.Fatal() || !ports.IsDriverFault(result.Err) {
		t.Fatalf("result = %+v, want fatal driver fault", result)
	}
	if len(sleeps.nonZero()) != 1 {
		t.Fatalf("sleeps = %v, want exactly one backoff", sleeps.nonZero())
	}
}

func TestExecuteSucceedsMidway(t *testing.T) {
	engine := NewRetryEngine(testPolicies(), nil, (&sleepRecorder{}).Sleep)

	result := engine.Execute(context.Background(), ClassNavigation, func(_ context.Context, attempt int) Attempt {
		if attempt < 3 {
			return Recoverable(errors.New("retry me"))
		}
		return Succeeded()
	})
	if !result.OK() || result.Attempts != 3 || result.Err != nil {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteUnknownClassRunsOnce(t *testing.T) {
	engine := NewRetryEngine(testPolicies(), nil, (&sleepRecorder{}).Sleep)

	calls := 0
	result := engine.Execute(context.Background(), "mystery", func(context.Context, int) Attempt {
		calls++
		return Recoverable(errors.New("nope"))
	})
	if calls != 1 || result.OK() {
		t.Fatalf("calls = %d result = %+v, want one failed attempt", calls, result)
	}
}

func TestExecuteZeroBaseStillWaits(t *testing.T) {
	sleeps := &sleepRecorder{}
	engine := NewRetryEngine(testPolicies(), nil, sleeps.Sleep)

	engine.Execute(context.Background(), ClassListing, func(context.Context, int) Attempt {
		return Recoverable(errors.New("missing"))
	})
	got := sleeps.nonZero()
	if len(got) != 1 || got[0] != time.Millisecond {
		t.Fatalf("sleeps = %v, want [1ms]", got)
	}
}

func TestExecuteBackoffNeverShrinks(t *testing.T) {
	sleeps := &sleepRecorder{}
	extendFirst := SelectorFunc(func(sc SelectionContext) StrategyID {
		if sc.Purpose == PurposeBackoff && sc.Attempt == 1 {
			return StrategyExtendedBackoff
		}
		return StrategyStandardBackoff
	})
	engine := NewRetryEngine(testPolicies(), extendFirst, sleeps.Sleep)

	engine.Execute(context.Background(), ClassNavigation, func(context.Context, int) Attempt {
		return Recoverable(errors.New("again"))
	})

	got := sleeps.nonZero()
	if len(got) != 4 {
		t.Fatalf("sleeps = %v, want 4 backoffs", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("backoff schedule decreased: %v", got)
		}
	}
	if got[0] != 10*time.Millisecond {
		t.Fatalf("extended first backoff = %v, want 10ms", got[0])
	}
}

func TestExecuteCancelledContextIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := NewRetryEngine(testPolicies(), nil, SleepContext)

	calls := 0
	result := engine.Execute(ctx, ClassLogin, func(context.Context, int) Attempt {
		calls++
		cancel()
		return Recoverable(errors.New("flaky"))
	})
	if !result.Fatal() || !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("result = %+v, want fatal cancellation", result)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want AttemptOutcome
	}{
		{name: "nil", err: nil, want: AttemptSuccess},
		{name: "not found", err: ports.ErrElementNotFound, want: AttemptRecoverable},
		{name: "timeout", err: context.DeadlineExceeded, want: AttemptRecoverable},
		{name: "driver fault", err: ports.NewDriverFault("navigate", errors.New("gone")), want: AttemptFatal},
		{name: "listing missing", err: ports.ErrListingNotFound, want: AttemptFatal},
		{name: "cancelled", err: context.Canceled, want: AttemptFatal},
	}
	for _, testCase := range testCases {
		if got := Classify(testCase.err).Outcome; got != testCase.want {
			t.Fatalf("%s: Classify() = %s, want %s", testCase.name, got, testCase.want)
		}
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	linear := RetryPolicy{MaxAttempts: 3, Backoff: BackoffLinear, BaseMillis: 100}
	fixed := RetryPolicy{MaxAttempts: 3, Backoff: BackoffFixed, BaseMillis: 100}

	if linear.Delay(1) != 100*time.Millisecond || linear.Delay(3) != 300*time.Millisecond {
		t.Fatalf("linear delays = %v, %v", linear.Delay(1), linear.Delay(3))
	}
	if fixed.Delay(1) != fixed.Delay(4) {
		t.Fatalf("fixed delays differ: %v vs %v", fixed.Delay(1), fixed.Delay(4))
	}
	if (RetryPolicy{Backoff: BackoffFixed}).Delay(2) != time.Millisecond {
		t.Fatalf("zero base should floor at 1ms")
	}
}
