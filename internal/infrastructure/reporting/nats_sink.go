package reporting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

const defaultNATSSubject = "marketbot.events"

// natsConn is the slice of *nats.Conn the sink uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSSink publishes each event on "<subject>.<action>".
type NATSSink struct {
	conn    natsConn
	subject string
}

var _ ports.ReportingSink = (*NATSSink)(nil)

// NewNATSConn connects in the background; publishes made before the server is
// reachable are buffered by the client.
func NewNATSConn(rawURL string, timeout time.Duration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("marketbot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}
	conn, err := nats.Connect(strings.TrimSpace(rawURL), opts...)
	if err != nil {
		return nil, errs.Wrap(err, "connect nats")
	}
	return conn, nil
}

func NewNATSSink(conn natsConn, subject string) *NATSSink {
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = defaultNATSSubject
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Subject(kind ports.EventKind) string {
	return s.subject + "." + string(kind)
}

func (s *NATSSink) Post(ctx context.Context, kind ports.EventKind, payload any) bool {
	if s == nil || s.conn == nil {
		return false
	}

	data, err := encode(kind, payload)
	if err != nil {
		logging.Warn(ctx, "encode nats event failed", slog.String("action", string(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}
	if err := s.conn.Publish(s.Subject(kind), data); err != nil {
		logging.Warn(ctx, "nats event not delivered", slog.String("subject", s.Subject(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}
	return true
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
