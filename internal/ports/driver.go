package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrElementNotFound means a sought control is absent. It is recoverable.
var ErrElementNotFound = errors.New("element not found")

type LocatorKind string

const (
	ByID    LocatorKind = "id"
	ByName  LocatorKind = "name"
	ByCSS   LocatorKind = "css"
	ByXPath LocatorKind = "xpath"
	ByText  LocatorKind = "text"
)

// Locator is one hint for finding a control.
type Locator struct {
	Kind  LocatorKind
	Value string
}

func (l Locator) String() string {
	return string(l.Kind) + ":" + l.Value
}

// ParseLocator reads "kind:value". A bare value starting with "/" or "(" is
// XPath, anything else is CSS.
func ParseLocator(raw string) (Locator, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Locator{}, errors.New("locator is empty")
	}

	if idx := strings.Index(trimmed, ":"); idx > 0 {
		kind := LocatorKind(strings.ToLower(trimmed[:idx]))
		value := strings.TrimSpace(trimmed[idx+1:])
		switch kind {
		case ByID, ByName, ByCSS, ByXPath, ByText:
			if value == "" {
				return Locator{}, fmt.Errorf("locator %q has no value", raw)
			}
			return Locator{Kind: kind, Value: value}, nil
		}
	}

	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "(") {
		return Locator{Kind: ByXPath, Value: trimmed}, nil
	}
	return Locator{Kind: ByCSS, Value: trimmed}, nil
}

// DriverFault marks a session-level failure (browser crashed, target gone).
// It is fatal for the run.
type DriverFault struct {
	Op  string
	Err error
}

func (e *DriverFault) Error() string {
	if e.Err == nil {
		return "driver fault: " + e.Op
	}
	return "driver fault: " + e.Op + ": " + e.Err.Error()
}

func (e *DriverFault) Unwrap() error { return e.Err }
func (e *DriverFault) Kind() string  { return "driver_fault" }

func NewDriverFault(op string, err error) error {
	return &DriverFault{Op: op, Err: err}
}

func IsDriverFault(err error) bool {
	var fault *DriverFault
	return errors.As(err, &fault)
}

type DriverConfig struct {
	Headless      bool
	ExecPath      string
	UserDataDir   string
	WindowWidth   int
	WindowHeight  int
	ActionTimeout time.Duration
}

type Driver interface {
	Start(ctx context.Context, cfg DriverConfig) (Session, error)
}

// Session is a single browser tab. It is not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Find(ctx context.Context, locator Locator) (Handle, error)
	FindAll(ctx context.Context, locator Locator) ([]Handle, error)
	Close() error
}

type Handle interface {
	IsVisible(ctx context.Context) (bool, error)
	IsInteractable(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	TypeText(ctx context.Context, text string) error
	ReadText(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
}
