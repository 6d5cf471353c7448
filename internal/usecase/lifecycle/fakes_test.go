package lifecycle

import (
	"context"
	"sync"
	"time"

	"marketbot/internal/ports"
)

const anyPage = "*"

type fakeDriver struct {
	session  *fakeSession
	startErr error
	starts   int
	// gate, when set, holds Start until it is closed.
	gate chan struct{}
}

func (d *fakeDriver) Start(context.Context, ports.DriverConfig) (ports.Session, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.starts++
	if d.startErr != nil {
		return nil, d.startErr
	}
	return d.session, nil
}

// fakeSession serves elements per page URL; anyPage elements exist everywhere.
type fakeSession struct {
	mu        sync.Mutex
	url       string
	elements  map[string]map[string][]*fakeHandle
	redirects map[string]string
	navErrs   map[string]error
	// onNavigate runs after the page at its key has been opened.
	onNavigate map[string]func()
	findFault  error
	visited    []string
	closes     int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		elements:   make(map[string]map[string][]*fakeHandle),
		redirects:  make(map[string]string),
		navErrs:    make(map[string]error),
		onNavigate: make(map[string]func()),
	}
}

func (s *fakeSession) put(page string, rawLocator string, handles ...*fakeHandle) {
	locator, err := ports.ParseLocator(rawLocator)
	if err != nil {
		panic(err)
	}
	if s.elements[page] == nil {
		s.elements[page] = make(map[string][]*fakeHandle)
	}
	for _, handle := range handles {
		handle.session = s
	}
	s.elements[page][locator.String()] = append(s.elements[page][locator.String()], handles...)
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, url)
	if err := s.navErrs[url]; err != nil {
		return err
	}
	if target, ok := s.redirects[url]; ok {
		url = target
	}
	s.url = url
	if hook := s.onNavigate[s.visited[len(s.visited)-1]]; hook != nil {
		hook()
	}
	return nil
}

func (s *fakeSession) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, nil
}

func (s *fakeSession) Find(ctx context.Context, locator ports.Locator) (ports.Handle, error) {
	handles, err := s.FindAll(ctx, locator)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, ports.ErrElementNotFound
	}
	return handles[0], nil
}

func (s *fakeSession) FindAll(_ context.Context, locator ports.Locator) ([]ports.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findFault != nil {
		return nil, s.findFault
	}

	var out []ports.Handle
	for _, page := range []string{s.url, anyPage} {
		for _, handle := range s.elements[page][locator.String()] {
			out = append(out, handle)
		}
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) visits(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, visited := range s.visited {
		if visited == url {
			count++
		}
	}
	return count
}

type fakeHandle struct {
	session  *fakeSession
	text     string
	attrs    map[string]string
	hidden   bool
	disabled bool
	goesTo   string
	clickErr error
	clicks   int
	typed    []string
}

func (h *fakeHandle) IsVisible(context.Context) (bool, error) { return !h.hidden, nil }
func (h *fakeHandle) IsInteractable(context.Context) (bool, error) {
	return !h.hidden && !h.disabled, nil
}
func (h *fakeHandle) ReadText(context.Context) (string, error) { return h.text, nil }

func (h *fakeHandle) Click(context.Context) error {
	h.clicks++
	if h.clickErr != nil {
		return h.clickErr
	}
	if h.goesTo != "" {
		h.session.mu.Lock()
		h.session.url = h.goesTo
		h.session.mu.Unlock()
	}
	return nil
}

func (h *fakeHandle) TypeText(_ context.Context, text string) error {
	h.typed = append(h.typed, text)
	return nil
}

func (h *fakeHandle) Attribute(_ context.Context, name string) (string, bool, error) {
	value, ok := h.attrs[name]
	return value, ok, nil
}

type recordedEvent struct {
	kind    ports.EventKind
	payload any
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recordingSink) Post(_ context.Context, kind ports.EventKind, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{kind: kind, payload: payload})
	return true
}

func (s *recordingSink) count(kind ports.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.kind == kind {
			n++
		}
	}
	return n
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) nonZero() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Duration
	for _, d := range r.delays {
		if d > 0 {
			out = append(out, d)
		}
	}
	return out
}
