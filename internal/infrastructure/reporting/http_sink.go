package reporting

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSink posts {"action", "data"} JSON to a dashboard endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

var _ ports.ReportingSink = (*HTTPSink)(nil)

func NewHTTPSink(endpoint string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPSink{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Post(ctx context.Context, kind ports.EventKind, payload any) bool {
	if s == nil || s.endpoint == "" {
		return false
	}

	body, err := encode(kind, payload)
	if err != nil {
		logging.Warn(ctx, "encode dashboard event failed", slog.String("action", string(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		logging.Warn(ctx, "build dashboard request failed", slog.String("action", string(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logging.Warn(ctx, "post dashboard event failed", slog.String("action", string(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.Warn(ctx, "dashboard rejected event", slog.String("action", string(kind)), slog.Int("status", resp.StatusCode))
		return false
	}
	return true
}
