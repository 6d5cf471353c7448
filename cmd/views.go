package cmd

import (
	"time"

	"marketbot/internal/domain/listing"
	"marketbot/internal/ports"
	"marketbot/internal/usecase/lifecycle"
)

const maskedPassword = "********"

// Views are the shapes printed by --output json|yaml and served by the
// dashboard API.

type statsView struct {
	Total     int64   `json:"total_listings" yaml:"total_listings"`
	Public    int64   `json:"public_listings" yaml:"public_listings"`
	Visible   int64   `json:"visible_listings" yaml:"visible_listings"`
	Pending   int64   `json:"pending_listings" yaml:"pending_listings"`
	Processed int64   `json:"processed_listings" yaml:"processed_listings"`
	Failed    int64   `json:"failed_listings" yaml:"failed_listings"`
	Success   float64 `json:"success_rate" yaml:"success_rate"`
}

func newStatsView(stats listing.Stats) statsView {
	return statsView{
		Total:     stats.Total,
		Public:    stats.Public,
		Visible:   stats.Visible,
		Pending:   stats.Pending,
		Processed: stats.Processed,
		Failed:    stats.Failed,
		Success:   stats.Success,
	}
}

type listingView struct {
	ItemID     string    `json:"item_id" yaml:"item_id"`
	URL        string    `json:"url" yaml:"url"`
	Title      string    `json:"title" yaml:"title"`
	Price      string    `json:"price,omitempty" yaml:"price,omitempty"`
	Category   string    `json:"category,omitempty" yaml:"category,omitempty"`
	Status     string    `json:"status" yaml:"status"`
	IsPublic   bool      `json:"is_public" yaml:"is_public"`
	IsVisible  bool      `json:"is_visible" yaml:"is_visible"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Views      int       `json:"views" yaml:"views"`
	Messages   int       `json:"messages" yaml:"messages"`
	Strategy   string    `json:"processing_strategy,omitempty" yaml:"processing_strategy,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

func newListingViews(items []listing.Listing) []listingView {
	views := make([]listingView, 0, len(items))
	for _, item := range items {
		views = append(views, listingView{
			ItemID:     item.ItemID,
			URL:        item.URL,
			Title:      item.Title,
			Price:      item.Price,
			Category:   item.Category,
			Status:     string(item.Status),
			IsPublic:   item.IsPublic,
			IsVisible:  item.IsVisible,
			Confidence: item.Confidence,
			Views:      item.Views,
			Messages:   item.Messages,
			Strategy:   item.ProcessingStrategy,
			CreatedAt:  item.CreatedAt.UTC(),
			UpdatedAt:  item.UpdatedAt.UTC(),
		})
	}
	return views
}

type logView struct {
	ID         uint64    `json:"id" yaml:"id"`
	RunID      string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ListingRef *uint64   `json:"listing_ref,omitempty" yaml:"listing_ref,omitempty"`
	Action     string    `json:"action" yaml:"action"`
	Outcome    string    `json:"status" yaml:"status"`
	Message    string    `json:"message" yaml:"message"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

func newLogViews(entries []listing.ActionLogEntry) []logView {
	views := make([]logView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, logView{
			ID:         entry.ID,
			RunID:      entry.RunID,
			ListingRef: entry.ListingRef,
			Action:     entry.Action,
			Outcome:    string(entry.Outcome),
			Message:    entry.Message,
			Timestamp:  entry.Timestamp.UTC(),
		})
	}
	return views
}

type settingsView struct {
	Email               string `json:"email" yaml:"email"`
	Password            string `json:"password" yaml:"password"`
	AutoRestart         bool   `json:"auto_restart" yaml:"auto_restart"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

func newSettingsView(settings listing.RunSettings) settingsView {
	password := ""
	if settings.Password != "" {
		password = maskedPassword
	}
	return settingsView{
		Email:               settings.Email,
		Password:            password,
		AutoRestart:         settings.AutoRestart,
		PollIntervalSeconds: int(settings.PollInterval().Seconds()),
	}
}

type runView struct {
	RunID      string     `json:"run_id" yaml:"run_id"`
	State      string     `json:"state" yaml:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Attempted  int        `json:"attempted" yaml:"attempted"`
	Processed  int        `json:"processed" yaml:"processed"`
	Failed     int        `json:"failed" yaml:"failed"`
	EarlyStop  bool       `json:"early_stop" yaml:"early_stop"`
	Message    string     `json:"message,omitempty" yaml:"message,omitempty"`
}

func newRunView(run ports.RunRecord) runView {
	view := runView{
		RunID:      run.RunID,
		State:      run.State,
		FinishedAt: run.FinishedAt,
		Attempted:  run.Attempted,
		Processed:  run.Processed,
		Failed:     run.Failed,
		EarlyStop:  run.EarlyStop,
		Message:    run.Message,
	}
	if !run.StartedAt.IsZero() {
		startedAt := run.StartedAt.UTC()
		view.StartedAt = &startedAt
	}
	return view
}

type snapshotView struct {
	Stats      statsView    `json:"stats" yaml:"stats"`
	Settings   settingsView `json:"settings" yaml:"settings"`
	IsRunning  bool         `json:"is_running" yaml:"is_running"`
	LatestRun  *runView     `json:"latest_run,omitempty" yaml:"latest_run,omitempty"`
	RecentLogs []logView    `json:"recent_logs" yaml:"recent_logs"`
}

func newSnapshotView(snapshot lifecycle.Snapshot) snapshotView {
	view := snapshotView{
		Stats:      newStatsView(snapshot.Stats),
		Settings:   newSettingsView(snapshot.Settings),
		IsRunning:  snapshot.IsRunning,
		RecentLogs: newLogViews(snapshot.RecentLogs),
	}
	if snapshot.HasRun {
		run := newRunView(snapshot.LatestRun)
		view.LatestRun = &run
	}
	return view
}
