package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

// ErrRunInProgress is returned by RunOnce while another run of the same
// service has not finished.
var ErrRunInProgress = errors.New("a run is already in progress")

// ErrInvalidSettings marks settings input rejected before anything is saved.
var ErrInvalidSettings = errors.New("invalid settings")

// RunDefaults are the process-level run parameters taken from config.
type RunDefaults struct {
	Email                  string
	Password               string
	Driver                 ports.DriverConfig
	MaxConsecutiveFailures int
}

// RunInput carries per-invocation overrides, usually CLI flags.
type RunInput struct {
	Email    string
	Password string
}

// SettingsInput updates the stored run settings. Nil fields keep the latest value.
type SettingsInput struct {
	Email               *string
	Password            *string
	AutoRestart         *bool
	PollIntervalSeconds *int
}

// Snapshot is the read model behind the status console.
type Snapshot struct {
	Stats      listing.Stats
	Settings   listing.RunSettings
	IsRunning  bool
	LatestRun  ports.RunRecord
	HasRun     bool
	RecentLogs []listing.ActionLogEntry
}

type Service struct {
	orchestrator *Orchestrator
	store        Store
	defaults     RunDefaults
	running      atomic.Bool
}

// NewService wires the orchestrator with the read side of the store.
func NewService(orchestrator *Orchestrator, store Store, defaults RunDefaults) *Service {
	return &Service{
		orchestrator: orchestrator,
		store:        store,
		defaults:     defaults,
	}
}

// RunOnce resolves the credential and runs one lifecycle.
func (s *Service) RunOnce(ctx context.Context, input RunInput) (RunReport, error) {
	if ctx == nil {
		return RunReport{}, errors.New("context is required")
	}
	run, err := s.TryStart(input)
	if err != nil {
		return RunReport{}, err
	}
	return run(ctx)
}

// TryStart claims the run slot without blocking and returns ErrRunInProgress
// when it is taken. The returned func runs the lifecycle and releases the
// slot; it must be called exactly once.
func (s *Service) TryStart(input RunInput) (func(ctx context.Context) (RunReport, error), error) {
	if s.orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	return func(ctx context.Context) (RunReport, error) {
		defer s.running.Store(false)

		email, password := s.ResolveCredential(ctx, input)
		return s.orchestrator.Run(ctx, RunConfig{
			Email:                  email,
			Password:               password,
			Driver:                 s.defaults.Driver,
			MaxConsecutiveFailures: s.defaults.MaxConsecutiveFailures,
		})
	}, nil
}

// Running reports whether this process is inside RunOnce.
func (s *Service) Running() bool {
	return s.running.Load()
}

// ReloadPlaybook re-reads the playbook overlay at path and applies it from the
// next run on.
func (s *Service) ReloadPlaybook(path string) error {
	if s.orchestrator == nil {
		return errors.New("orchestrator is required")
	}
	playbook, err := LoadPlaybook(path)
	if err != nil {
		return errs.Wrap(err, "load playbook")
	}
	return s.orchestrator.UsePlaybook(playbook)
}

// ResolveCredential applies flag > config/env > latest stored settings, per field.
func (s *Service) ResolveCredential(ctx context.Context, input RunInput) (string, string) {
	email := firstNonBlank(input.Email, s.defaults.Email)
	password := firstNonEmpty(input.Password, s.defaults.Password)
	if email != "" && password != "" {
		return email, password
	}

	if s.store.Settings == nil {
		return email, password
	}
	stored, err := s.store.Settings.LatestSettings(ctx)
	if err != nil {
		return email, password
	}
	return firstNonBlank(email, stored.Email), firstNonEmpty(password, stored.Password)
}

// Settings returns the latest stored settings, or defaults when none were saved.
func (s *Service) Settings(ctx context.Context) (listing.RunSettings, error) {
	if s.store.Settings == nil {
		return defaultSettings(), nil
	}
	settings, err := s.store.Settings.LatestSettings(ctx)
	if errors.Is(err, ports.ErrSettingsMissing) {
		return defaultSettings(), nil
	}
	if err != nil {
		return listing.RunSettings{}, errs.Wrap(err, "load settings")
	}
	return settings, nil
}

// SaveSettings appends a new settings row merged over the latest one.
func (s *Service) SaveSettings(ctx context.Context, input SettingsInput) (listing.RunSettings, error) {
	if s.store.Settings == nil {
		return listing.RunSettings{}, errors.New("settings repository is required")
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return listing.RunSettings{}, err
	}

	if input.Email != nil {
		settings.Email = strings.TrimSpace(*input.Email)
	}
	if input.Password != nil {
		settings.Password = *input.Password
	}
	if input.AutoRestart != nil {
		settings.AutoRestart = *input.AutoRestart
	}
	if input.PollIntervalSeconds != nil {
		if *input.PollIntervalSeconds <= 0 {
			return listing.RunSettings{}, fmt.Errorf("%w: poll interval must be positive", ErrInvalidSettings)
		}
		settings.PollIntervalSeconds = *input.PollIntervalSeconds
	}

	if err := s.store.Settings.SaveSettings(ctx, settings); err != nil {
		return listing.RunSettings{}, errs.Wrap(err, "save settings")
	}
	return settings, nil
}

func (s *Service) Stats(ctx context.Context) (listing.Stats, error) {
	stats, err := s.store.Listings.ComputeStats(ctx)
	if err != nil {
		return listing.Stats{}, errs.Wrap(err, "compute stats")
	}
	return stats, nil
}

func (s *Service) Listings(ctx context.Context, filter ports.ListingFilter) ([]listing.Listing, error) {
	if filter.Status != "" {
		if _, err := listing.ParseStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	items, err := s.store.Listings.ListListings(ctx, filter)
	if err != nil {
		return nil, errs.Wrap(err, "list listings")
	}
	return items, nil
}

func (s *Service) Logs(ctx context.Context, filter ports.ActionLogFilter) ([]listing.ActionLogEntry, error) {
	entries, err := s.store.Logs.ListLogs(ctx, filter)
	if err != nil {
		return nil, errs.Wrap(err, "list action log")
	}
	return entries, nil
}

// Snapshot gathers stats, settings, the latest run and recent log lines.
func (s *Service) Snapshot(ctx context.Context, logLimit int) (Snapshot, error) {
	var snapshot Snapshot

	stats, err := s.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Stats = stats

	settings, err := s.Settings(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Settings = settings

	run, err := s.store.Runs.LatestRun(ctx)
	switch {
	case err == nil:
		snapshot.LatestRun = run
		snapshot.HasRun = true
		snapshot.IsRunning = run.FinishedAt == nil || s.Running()
	case errors.Is(err, ports.ErrRunNotFound):
	default:
		return Snapshot{}, errs.Wrap(err, "load latest run")
	}

	logs, err := s.Logs(ctx, ports.ActionLogFilter{Limit: logLimit})
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.RecentLogs = logs
	return snapshot, nil
}

func defaultSettings() listing.RunSettings {
	return listing.RunSettings{
		AutoRestart:         true,
		PollIntervalSeconds: int(listing.DefaultPollInterval.Seconds()),
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
