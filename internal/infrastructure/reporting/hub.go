package reporting

import (
	"context"
	"log/slog"
	"sync"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

const defaultHubBuffer = 64

// Hub fans encoded events out to live subscribers such as dashboard
// websockets. A subscriber whose buffer is full misses the event.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	buffer      int
	closed      bool
}

var _ ports.ReportingSink = (*Hub)(nil)

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{subscribers: make(map[chan []byte]struct{}), buffer: buffer}
}

// Subscribe returns a channel of encoded envelopes and a cancel func. The
// channel is closed by cancel or by Close.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Post reports true when at least one subscriber took the event.
func (h *Hub) Post(ctx context.Context, kind ports.EventKind, payload any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.subscribers) == 0 {
		return false
	}

	data, err := encode(kind, payload)
	if err != nil {
		logging.Warn(ctx, "encode hub event failed", slog.String("action", string(kind)), slog.Any("err", errs.Loggable(err)))
		return false
	}

	delivered := false
	for ch := range h.subscribers {
		select {
		case ch <- data:
			delivered = true
		default:
			logging.Debug(ctx, "hub subscriber lagging, event dropped", slog.String("action", string(kind)))
		}
	}
	return delivered
}

// Close ends every subscription; later posts are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
}
