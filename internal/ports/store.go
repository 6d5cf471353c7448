package ports

import (
	"context"
	"errors"
	"time"

	"marketbot/internal/domain/listing"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrSettingsMissing = errors.New("run settings not found")
	ErrRunNotFound     = errors.New("run not found")
)

// ListingUpsert carries the fields discovery knows about a listing. Empty
// strings leave the stored value untouched on update.
type ListingUpsert struct {
	ItemID     string
	URL        string
	Title      string
	Price      string
	Category   string
	Confidence *float64
}

type ListingFilter struct {
	Status listing.Status
	Limit  int
}

type ListingRepository interface {
	UpsertListing(ctx context.Context, input ListingUpsert) (uint64, error)
	GetListing(ctx context.Context, itemID string) (listing.Listing, error)
	GetPending(ctx context.Context) ([]listing.Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]listing.Listing, error)
	UpdateStatus(ctx context.Context, itemID string, resolution listing.Resolution) error
	ComputeStats(ctx context.Context) (listing.Stats, error)
}

type ActionLogFilter struct {
	RunID  string
	ItemID string
	Limit  int
}

type ActionLogRepository interface {
	AppendLog(ctx context.Context, entry listing.ActionLogEntry) error
	ListLogs(ctx context.Context, filter ActionLogFilter) ([]listing.ActionLogEntry, error)
}

type SettingsRepository interface {
	SaveSettings(ctx context.Context, settings listing.RunSettings) error
	LatestSettings(ctx context.Context) (listing.RunSettings, error)
	SetRunning(ctx context.Context, running bool) error
}

type RunRecord struct {
	RunID      string
	State      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Attempted  int
	Processed  int
	Failed     int
	EarlyStop  bool
	Message    string
}

type RunRepository interface {
	CreateRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, record RunRecord) error
	LatestRun(ctx context.Context) (RunRecord, error)
}
