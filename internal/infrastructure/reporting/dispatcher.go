package reporting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/ports"
)

const (
	defaultQueueSize   = 128
	defaultPostTimeout = 10 * time.Second
)

type event struct {
	ctx     context.Context
	kind    ports.EventKind
	payload any
}

// Dispatcher hands events to a single background worker so slow dashboards
// never stall the caller. Post returns false when the event is dropped.
type Dispatcher struct {
	sink        ports.ReportingSink
	queue       chan event
	postTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ ports.ReportingSink = (*Dispatcher)(nil)

func NewDispatcher(sink ports.ReportingSink, queueSize int, postTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if postTimeout <= 0 {
		postTimeout = defaultPostTimeout
	}
	if sink == nil {
		sink = NopSink{}
	}

	d := &Dispatcher{
		sink:        sink,
		queue:       make(chan event, queueSize),
		postTimeout: postTimeout,
		done:        make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) Post(ctx context.Context, kind ports.EventKind, payload any) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	// Keep log attrs but drop the caller's deadline and cancellation.
	evt := event{ctx: context.WithoutCancel(ctx), kind: kind, payload: payload}
	select {
	case d.queue <- evt:
		return true
	default:
		logging.Warn(ctx, "reporting queue full, dropping event", slog.String("action", string(kind)))
		return false
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for evt := range d.queue {
		postCtx, cancel := context.WithTimeout(evt.ctx, d.postTimeout)
		d.sink.Post(postCtx, evt.kind, evt.payload)
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		logging.Warn(ctx, "reporting queue not drained before shutdown", slog.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}
