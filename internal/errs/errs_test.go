package errs

import (
	"errors"
	"log/slog"
	"testing"
)

type kindedErr struct{}

func (kindedErr) Error() string { return "session lost" }
func (kindedErr) Kind() string  { return "driver_fault" }

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("root")
	err := Wrapf(Wrap(root, "inner"), "outer %d", 1)

	if !errors.Is(err, root) {
		t.Fatalf("errors.Is() = false, want true")
	}
	chain := ErrorChainStrings(err)
	if len(chain) != 3 {
		t.Fatalf("chain len = %d, want 3: %v", len(chain), chain)
	}
	if chain[0] != "outer 1: inner: root" {
		t.Fatalf("chain[0] = %q", chain[0])
	}
	if Wrap(nil, "x") != nil || Wrapf(nil, "x") != nil {
		t.Fatalf("wrapping nil should return nil")
	}
}

func TestLoggableIncludesKind(t *testing.T) {
	err := Wrap(kindedErr{}, "navigate")

	if got := KindOf(err); got != "driver_fault" {
		t.Fatalf("KindOf() = %q, want driver_fault", got)
	}

	value := Loggable(err).LogValue()
	if value.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v, want group", value.Kind())
	}
	found := false
	for _, attr := range value.Group() {
		if attr.Key == "kind" && attr.Value.String() == "driver_fault" {
			found = true
		}
	}
	if !found {
		t.Fatalf("kind attr missing: %v", value.Group())
	}
}

func TestWithStackCapturesOnce(t *testing.T) {
	err := WithStack(errors.New("boom"))
	again := WithStack(Wrap(err, "ctx"))

	var se *StackError
	if !errors.As(again, &se) {
		t.Fatalf("expected StackError in chain")
	}
	if len(se.Stack()) == 0 {
		t.Fatalf("stack should not be empty")
	}
}
