package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"marketbot/internal/ports"
)

type recordingSink struct {
	mu     sync.Mutex
	kinds  []ports.EventKind
	accept bool
	block  chan struct{}
}

func (s *recordingSink) Post(_ context.Context, kind ports.EventKind, _ any) bool {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	return s.accept
}

func (s *recordingSink) seen() []ports.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.EventKind(nil), s.kinds...)
}

func TestHTTPSinkPostsEnvelope(t *testing.T) {
	var got Envelope
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, time.Second)
	ok := sink.Post(context.Background(), ports.EventUpdateListing, map[string]any{"item_id": "42", "status": "processed"})
	if !ok {
		t.Fatalf("Post() = false, want true")
	}
	if got.Action != ports.EventUpdateListing {
		t.Fatalf("action = %q", got.Action)
	}
	data, _ := got.Data.(map[string]any)
	if data["item_id"] != "42" {
		t.Fatalf("data = %v", got.Data)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
}

func TestHTTPSinkFailuresReturnFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if NewHTTPSink(server.URL, time.Second).Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("5xx should not count as delivered")
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	start := time.Now()
	if NewHTTPSink(slow.URL, 50*time.Millisecond).Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("timed out post should return false")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("post was not bounded by the client timeout")
	}

	if NewHTTPSink("", time.Second).Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("unconfigured sink should return false")
	}
}

func TestRedisSinkUnreachableReturnsFalse(t *testing.T) {
	client, err := NewRedisClient("redis://127.0.0.1:1/0")
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	sink := NewRedisSink(client, RedisConfig{Timeout: 200 * time.Millisecond})
	defer sink.Close()

	if sink.Post(context.Background(), ports.EventUpdateStats, map[string]int{"total_listings": 1}) {
		t.Fatalf("Post() to unreachable redis = true, want false")
	}
	if sink.mode != RedisModeStream || sink.key != "marketbot:events" {
		t.Fatalf("defaults = %s/%s", sink.mode, sink.key)
	}

	if _, err := NewRedisClient("not a url"); err == nil {
		t.Fatalf("invalid redis url should fail")
	}
}

func TestFanoutSinkAnySuccess(t *testing.T) {
	failing := &recordingSink{}
	accepting := &recordingSink{accept: true}

	fanout := NewFanoutSink(failing, nil, accepting)
	if fanout.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", fanout.Len())
	}
	if !fanout.Post(context.Background(), ports.EventNewListing, nil) {
		t.Fatalf("Post() = false, want true")
	}
	if len(failing.seen()) != 1 || len(accepting.seen()) != 1 {
		t.Fatalf("every sink should receive the event")
	}
	if NewFanoutSink(failing).Post(context.Background(), ports.EventNewListing, nil) {
		t.Fatalf("all-failing fanout should return false")
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	inner := &recordingSink{accept: true}
	dispatcher := NewDispatcher(inner, 8, time.Second)

	kinds := []ports.EventKind{ports.EventAddLog, ports.EventUpdateListing, ports.EventUpdateStats}
	for _, kind := range kinds {
		if !dispatcher.Post(context.Background(), kind, nil) {
			t.Fatalf("Post(%s) = false", kind)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	seen := inner.seen()
	if len(seen) != len(kinds) {
		t.Fatalf("delivered %v, want %v", seen, kinds)
	}
	for i := range kinds {
		if seen[i] != kinds[i] {
			t.Fatalf("delivery order = %v, want %v", seen, kinds)
		}
	}

	if dispatcher.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("Post after Close should return false")
	}
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	inner := &recordingSink{accept: true, block: make(chan struct{})}
	dispatcher := NewDispatcher(inner, 1, time.Second)

	// The worker takes the first event and blocks; the second fills the queue.
	dispatcher.Post(context.Background(), ports.EventAddLog, nil)
	deadline := time.Now().Add(time.Second)
	for len(dispatcher.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !dispatcher.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("queue should accept one buffered event")
	}
	if dispatcher.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("full queue should drop the event")
	}

	close(inner.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(inner.seen()); got != 2 {
		t.Fatalf("delivered %d events, want 2", got)
	}
}

type fakeNATSConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (c *fakeNATSConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeNATSConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSSinkPublishesPerAction(t *testing.T) {
	conn := &fakeNATSConn{}
	sink := NewNATSSink(conn, " marketbot.events. ")

	if !sink.Post(context.Background(), ports.EventNewListing, map[string]string{"item_id": "7"}) {
		t.Fatalf("Post() = false, want true")
	}
	if len(conn.subjects) != 1 || conn.subjects[0] != "marketbot.events.new_listing" {
		t.Fatalf("subjects = %v", conn.subjects)
	}
	var got Envelope
	if err := json.Unmarshal(conn.payloads[0], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Action != ports.EventNewListing {
		t.Fatalf("action = %q", got.Action)
	}

	conn.err = errors.New("connection closed")
	if sink.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("failed publish should return false")
	}

	if err := sink.Close(); err != nil || !conn.drained {
		t.Fatalf("Close() err = %v drained = %t", err, conn.drained)
	}
	if NewNATSSink(nil, "").Subject(ports.EventAddLog) != "marketbot.events.add_log" {
		t.Fatalf("default subject not applied")
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(1)
	if hub.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("Post() without subscribers = true")
	}

	events, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", hub.Subscribers())
	}
	if !hub.Post(context.Background(), ports.EventUpdateStats, map[string]int{"total_listings": 3}) {
		t.Fatalf("Post() = false, want true")
	}
	// Buffer of one is full; the next event is dropped for this subscriber.
	if hub.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("Post() to a full subscriber = true")
	}

	var got Envelope
	if err := json.Unmarshal(<-events, &got); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if got.Action != ports.EventUpdateStats {
		t.Fatalf("action = %q", got.Action)
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("Subscribers() after cancel = %d", hub.Subscribers())
	}
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(0)
	events, cancel := hub.Subscribe()
	defer cancel()

	hub.Close()
	if _, ok := <-events; ok {
		t.Fatalf("channel should be closed by Close")
	}
	if hub.Post(context.Background(), ports.EventAddLog, nil) {
		t.Fatalf("Post() after Close = true")
	}
	late, _ := hub.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscription after Close should be closed")
	}
}
