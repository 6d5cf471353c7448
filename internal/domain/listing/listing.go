package listing

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusProcessed:
		return StatusProcessed, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// IsTerminal reports whether a processing attempt has resolved the listing.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

type Outcome string

const (
	OutcomeStarted Outcome = "started"
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
)

// Listing is one sellable item tracked across runs, keyed by ItemID.
type Listing struct {
	ID                 uint64
	ItemID             string
	URL                string
	Title              string
	Price              string
	Category           string
	Status             Status
	IsPublic           bool
	IsVisible          bool
	Confidence         float64
	Views              int
	Messages           int
	ProcessingStrategy string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Terminal fields written after a processing attempt. Processed listings are
// public and visible, failed ones neither.
type Resolution struct {
	Status    Status
	IsPublic  bool
	IsVisible bool
	Strategy  string
}

func Processed(strategy string) Resolution {
	return Resolution{Status: StatusProcessed, IsPublic: true, IsVisible: true, Strategy: strategy}
}

func Failed() Resolution {
	return Resolution{Status: StatusFailed}
}

type ActionLogEntry struct {
	ID         uint64
	RunID      string
	ListingRef *uint64
	Action     string
	Outcome    Outcome
	Message    string
	Timestamp  time.Time
}

// RunSettings is the process-wide settings snapshot read by a run.
type RunSettings struct {
	Email               string
	Password            string
	AutoRestart         bool
	PollIntervalSeconds int
}

func (s RunSettings) HasCredential() bool {
	return strings.TrimSpace(s.Email) != "" && s.Password != ""
}

func (s RunSettings) PollInterval() time.Duration {
	if s.PollIntervalSeconds <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

const DefaultPollInterval = 300 * time.Second
