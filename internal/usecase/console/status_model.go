package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/ports"
	"marketbot/internal/usecase/lifecycle"
)

const maxAuditLines = 8

// Source is the part of lifecycle.Service the console reads and drives.
type Source interface {
	Snapshot(ctx context.Context, logLimit int) (lifecycle.Snapshot, error)
	RunOnce(ctx context.Context, input lifecycle.RunInput) (lifecycle.RunReport, error)
}

type StatusOptions struct {
	RefreshInterval time.Duration
	LogLimit        int
}

type statusModel struct {
	ctx             context.Context
	source          Source
	refreshInterval time.Duration
	logLimit        int

	snapshot    lifecycle.Snapshot
	hasSnapshot bool
	running     bool
	status      string
	auditLogs   []string
}

type snapshotLoadedMsg struct {
	snapshot lifecycle.Snapshot
	err      error
}

type tickMsg struct{}

type runDoneMsg struct {
	report lifecycle.RunReport
	err    error
}

func NewStatusModel(ctx context.Context, source Source, options StatusOptions) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	limit := options.LogLimit
	if limit <= 0 {
		limit = 10
	}

	return &statusModel{
		ctx:             logging.WithComponent(ctx, "console"),
		source:          source,
		refreshInterval: interval,
		logLimit:        limit,
		status:          "loading",
	}
}

func (m *statusModel) Init() tea.Cmd {
	return tea.Batch(m.loadSnapshotCmd(), m.tickCmd())
}

func (m *statusModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadSnapshotCmd(), m.tickCmd())
	case snapshotLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.snapshot = msg.snapshot
		m.hasSnapshot = true
		if !m.running {
			m.status = "refreshed " + time.Now().Format("15:04:05")
		}
		return m, nil
	case runDoneMsg:
		m.running = false
		if errors.Is(msg.err, lifecycle.ErrRunInProgress) {
			m.status = "a run is already in progress"
			return m, m.loadSnapshotCmd()
		}
		if msg.err != nil {
			m.status = "run aborted: " + msg.err.Error()
			m.appendAuditLog(msg.report, msg.err)
		} else {
			m.status = fmt.Sprintf("run done: %d processed, %d failed", msg.report.Processed, msg.report.Failed)
			m.appendAuditLog(msg.report, nil)
		}
		return m, m.loadSnapshotCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadSnapshotCmd()
		case "r":
			return m, m.runCmd()
		}
	}
	return m, nil
}

func (m *statusModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Marketbot Status"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf("refresh=%s logs=%d", m.refreshInterval, m.logLimit)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Listings"))
	builder.WriteString("\n")
	if !m.hasSnapshot {
		builder.WriteString(dimStyle.Render("- no data"))
		builder.WriteString("\n\n")
	} else {
		stats := m.snapshot.Stats
		builder.WriteString(fmt.Sprintf("Total: %d  Public: %d  Visible: %d\n", stats.Total, stats.Public, stats.Visible))
		builder.WriteString(fmt.Sprintf("Pending: %d  Processed: %d  Failed: %d\n", stats.Pending, stats.Processed, stats.Failed))
		builder.WriteString(fmt.Sprintf("Success rate: %.1f%%\n\n", stats.Success*100))

		builder.WriteString(sectionStyle.Render("Settings"))
		builder.WriteString("\n")
		settings := m.snapshot.Settings
		builder.WriteString(fmt.Sprintf("Account: %s\n", firstNonEmpty(settings.Email, "-")))
		builder.WriteString(fmt.Sprintf("Auto restart: %t  Poll: %s\n\n", settings.AutoRestart, settings.PollInterval()))

		builder.WriteString(sectionStyle.Render("Latest Run"))
		builder.WriteString("\n")
		if !m.snapshot.HasRun {
			builder.WriteString(dimStyle.Render("- none"))
			builder.WriteString("\n\n")
		} else {
			run := m.snapshot.LatestRun
			line := fmt.Sprintf("%s %s attempted=%d processed=%d failed=%d", shortID(run.RunID), runState(run, m.snapshot.IsRunning), run.Attempted, run.Processed, run.Failed)
			if run.EarlyStop {
				line += " early-stop"
			}
			builder.WriteString(line + "\n")
			if run.Message != "" {
				builder.WriteString(errorStyle.Render(firstLine(run.Message)))
				builder.WriteString("\n")
			}
			builder.WriteString("\n")
		}

		builder.WriteString(sectionStyle.Render("Recent Actions"))
		builder.WriteString("\n")
		if len(m.snapshot.RecentLogs) == 0 {
			builder.WriteString(dimStyle.Render("- none"))
			builder.WriteString("\n")
		}
		for _, entry := range m.snapshot.RecentLogs {
			builder.WriteString(formatLogLine(entry))
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Console Runs"))
	builder.WriteString("\n")
	if len(m.auditLogs) == 0 {
		builder.WriteString(dimStyle.Render("- no runs"))
		builder.WriteString("\n\n")
	} else {
		for _, line := range m.auditLogs {
			builder.WriteString("- " + line)
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(dimStyle.Render("Keys: g refresh  r run now  q quit"))
	return builder.String()
}

func (m *statusModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *statusModel) loadSnapshotCmd() tea.Cmd {
	return func() tea.Msg {
		snapshot, err := m.source.Snapshot(m.ctx, m.logLimit)
		return snapshotLoadedMsg{snapshot: snapshot, err: err}
	}
}

func (m *statusModel) runCmd() tea.Cmd {
	if m.running || (m.hasSnapshot && m.snapshot.IsRunning) {
		m.status = "a run is already in progress"
		return nil
	}
	m.running = true
	m.status = "running lifecycle..."
	return func() tea.Msg {
		report, err := m.source.RunOnce(m.ctx, lifecycle.RunInput{})
		return runDoneMsg{report: report, err: err}
	}
}

func (m *statusModel) appendAuditLog(report lifecycle.RunReport, runErr error) {
	line := fmt.Sprintf("%s %s %s processed=%d failed=%d", time.Now().Format("15:04:05"), shortID(report.RunID), report.State, report.Processed, report.Failed)
	if runErr != nil {
		line += " err=" + firstLine(runErr.Error())
		logging.Warn(m.ctx, "console run aborted", slog.String("run_id", report.RunID), slog.String("err", runErr.Error()))
	}
	m.auditLogs = append(m.auditLogs, line)
	if len(m.auditLogs) > maxAuditLines {
		m.auditLogs = m.auditLogs[len(m.auditLogs)-maxAuditLines:]
	}
}

func formatLogLine(entry listing.ActionLogEntry) string {
	return fmt.Sprintf("%s [%s] %s %s",
		entry.Timestamp.Local().Format("15:04:05"),
		entry.Outcome,
		entry.Action,
		firstLine(entry.Message),
	)
}

func runState(run ports.RunRecord, running bool) string {
	if running {
		return "running"
	}
	return firstNonEmpty(run.State, "unknown")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return firstNonEmpty(id, "-")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
