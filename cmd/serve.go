package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"marketbot/internal/bootstrap"
	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/domain/listing"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
	"marketbot/internal/usecase/lifecycle"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local dashboard API and live event stream",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *lifecycle.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		withDaemon, _ := cmd.Flags().GetBool("daemon")
		addr = firstNonEmpty(addr, app.Config.Server.Addr)

		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		input := credentialInput(cmd)
		handler := newDashboardHandler(serveCtx, svc, app.Events, input)
		server := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: app.Config.Server.ReadHeaderTimeout,
		}

		var background sync.WaitGroup
		if withDaemon {
			background.Add(1)
			go func() {
				defer background.Done()
				if err := lifecycle.NewDaemon(svc, input).Run(serveCtx); err != nil {
					logging.Error(ctx, "daemon failed", slog.Any("err", errs.Loggable(err)))
				}
			}()
			startPlaybookWatch(serveCtx, app, svc, &background)
		}

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- server.ListenAndServe()
		}()
		logging.Info(ctx, "dashboard server started", slog.String("addr", addr), slog.Bool("daemon", withDaemon))

		var failure error
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				failure = err
			}
		}
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "dashboard server shutdown failed", slog.Any("err", errs.Loggable(err)))
		}
		handler.Wait()
		background.Wait()

		if failure != nil {
			logging.Error(ctx, "dashboard server failed", slog.Any("err", errs.Loggable(failure)))
			return errs.Wrap(failure, "serve dashboard")
		}
		logging.Info(ctx, "dashboard server stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (defaults to server.addr)")
	serveCmd.Flags().Bool("daemon", false, "Also run the lifecycle daemon in this process")
	addCredentialFlags(serveCmd)
}

type dashboardService interface {
	Stats(ctx context.Context) (listing.Stats, error)
	Listings(ctx context.Context, filter ports.ListingFilter) ([]listing.Listing, error)
	Logs(ctx context.Context, filter ports.ActionLogFilter) ([]listing.ActionLogEntry, error)
	Snapshot(ctx context.Context, logLimit int) (lifecycle.Snapshot, error)
	Settings(ctx context.Context) (listing.RunSettings, error)
	SaveSettings(ctx context.Context, input lifecycle.SettingsInput) (listing.RunSettings, error)
	TryStart(input lifecycle.RunInput) (func(ctx context.Context) (lifecycle.RunReport, error), error)
}

type eventSource interface {
	Subscribe() (<-chan []byte, func())
}

// dashboardHandler serves the read API, settings updates, run triggers and
// the /events websocket. Runs and websockets live until ctx is done.
type dashboardHandler struct {
	ctx      context.Context
	svc      dashboardService
	events   eventSource
	input    lifecycle.RunInput
	upgrader websocket.Upgrader
	router   chi.Router
	runs     sync.WaitGroup
}

type settingsRequest struct {
	Email               *string `json:"email"`
	Password            *string `json:"password"`
	AutoRestart         *bool   `json:"auto_restart"`
	PollIntervalSeconds *int    `json:"poll_interval_seconds"`
}

type runStartedResponse struct {
	Status string `json:"status"`
}

type dashboardErrorResponse struct {
	Error string `json:"error"`
}

func newDashboardHandler(ctx context.Context, svc dashboardService, events eventSource, input lifecycle.RunInput) *dashboardHandler {
	h := &dashboardHandler{
		ctx:    logging.WithComponent(ctx, "dashboard"),
		svc:    svc,
		events: events,
		input:  input,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(h.logRequests)

	router.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Get("/listings", h.handleListings)
		r.Get("/logs", h.handleLogs)
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/settings", h.handleSettings)
		r.Put("/settings", h.handleSaveSettings)
		r.Post("/runs", h.handleStartRun)
	})
	router.Get("/events", h.handleEvents)

	h.router = router
	return h
}

func (h *dashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Wait blocks until runs started through the API have returned.
func (h *dashboardHandler) Wait() {
	h.runs.Wait()
}

func (h *dashboardHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug(h.ctx, "dashboard request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *dashboardHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeDashboardJSON(w, http.StatusOK, newStatsView(stats))
}

func (h *dashboardHandler) handleListings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeDashboardError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	items, err := h.svc.Listings(r.Context(), ports.ListingFilter{Status: listing.Status(status), Limit: limit})
	if errors.Is(err, listing.ErrInvalidStatus) {
		writeDashboardError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeDashboardJSON(w, http.StatusOK, newListingViews(items))
}

func (h *dashboardHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeDashboardError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := r.URL.Query()

	entries, err := h.svc.Logs(r.Context(), ports.ActionLogFilter{
		RunID:  strings.TrimSpace(query.Get("run")),
		ItemID: strings.TrimSpace(query.Get("item")),
		Limit:  limit,
	})
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeDashboardJSON(w, http.StatusOK, newLogViews(entries))
}

func (h *dashboardHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 10)
	if err != nil {
		writeDashboardError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot, err := h.svc.Snapshot(r.Context(), limit)
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeDashboardJSON(w, http.StatusOK, newSnapshotView(snapshot))
}

func (h *dashboardHandler) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeDashboardJSON(w, http.StatusOK, newSettingsView(settings))
}

func (h *dashboardHandler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var request settingsRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeDashboardError(w, http.StatusBadRequest, "invalid settings payload")
		return
	}

	settings, err := h.svc.SaveSettings(r.Context(), lifecycle.SettingsInput{
		Email:               request.Email,
		Password:            request.Password,
		AutoRestart:         request.AutoRestart,
		PollIntervalSeconds: request.PollIntervalSeconds,
	})
	if errors.Is(err, lifecycle.ErrInvalidSettings) {
		writeDashboardError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeDashboardJSON(w, http.StatusOK, newSettingsView(settings))
}

// handleStartRun starts one lifecycle in the background and answers at once.
func (h *dashboardHandler) handleStartRun(w http.ResponseWriter, _ *http.Request) {
	run, err := h.svc.TryStart(h.input)
	if errors.Is(err, lifecycle.ErrRunInProgress) {
		writeDashboardError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeDashboardError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		report, err := run(h.ctx)
		if err != nil {
			logging.Warn(h.ctx, "dashboard run aborted", slog.String("run_id", report.RunID), slog.Any("err", errs.Loggable(err)))
			return
		}
		logging.Info(h.ctx, "dashboard run finished", slog.String("run_id", report.RunID), slog.Int("processed", report.Processed))
	}()

	writeDashboardJSON(w, http.StatusAccepted, runStartedResponse{Status: "started"})
}

// handleEvents streams reporting envelopes as websocket text frames.
func (h *dashboardHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeDashboardError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}

	// Subscribe before the handshake completes so no event is missed.
	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug(h.ctx, "websocket upgrade failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-h.ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second),
			)
			return
		case <-closed:
			return
		case data, ok := <-events:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug(h.ctx, "websocket write failed", slog.Any("err", errs.Loggable(err)))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

func writeDashboardError(w http.ResponseWriter, status int, message string) {
	writeDashboardJSON(w, status, dashboardErrorResponse{Error: message})
}

func writeDashboardJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
