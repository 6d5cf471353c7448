package browser

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

const defaultActionTimeout = 15 * time.Second

// Driver launches a local Chrome through the DevTools protocol.
type Driver struct{}

var _ ports.Driver = (*Driver)(nil)

func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) Start(ctx context.Context, cfg ports.DriverConfig) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "start browser")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if path := strings.TrimSpace(cfg.ExecPath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if dir := strings.TrimSpace(cfg.UserDataDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrapf(err, "create user data dir %s", dir)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}

	// The browser outlives the caller's ctx; Close is the only way to stop it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		timeout:     cfg.ActionTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = defaultActionTimeout
	}

	if err := s.run(ctx, "start", chromedp.Navigate("about:blank")); err != nil {
		_ = s.Close()
		if ports.IsDriverFault(err) {
			return nil, err
		}
		return nil, ports.NewDriverFault("start", err)
	}
	return s, nil
}

type session struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	closeOnce   sync.Once
}

// run executes actions on the tab, bounded by the action timeout and the
// caller's ctx.
func (s *session) run(callCtx context.Context, op string, actions ...chromedp.Action) error {
	if err := s.tabCtx.Err(); err != nil {
		return ports.NewDriverFault(op, err)
	}

	runCtx, cancel := context.WithTimeout(s.tabCtx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(callCtx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if callErr := callCtx.Err(); callErr != nil {
		return errs.Wrap(callErr, op)
	}
	return s.classify(op, err)
}

func (s *session) classify(op string, err error) error {
	if s.tabCtx.Err() != nil ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrChannelClosed) {
		return ports.NewDriverFault(op, err)
	}
	return errs.Wrap(err, op)
}

func (s *session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, "navigate", chromedp.Navigate(url))
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, "current url", chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (s *session) Find(ctx context.Context, locator ports.Locator) (ports.Handle, error) {
	handles, err := s.FindAll(ctx, locator)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, errs.Wrapf(ports.ErrElementNotFound, "find %s", locator)
	}
	return handles[0], nil
}

// FindAll probes once and returns every match; an empty result is not an error.
func (s *session) FindAll(ctx context.Context, locator ports.Locator) ([]ports.Handle, error) {
	query, by, err := translateLocator(locator)
	if err != nil {
		return nil, err
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, "find "+locator.String(), chromedp.Nodes(query, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}

	handles := make([]ports.Handle, 0, len(nodes))
	for _, node := range nodes {
		if node == nil {
			continue
		}
		handles = append(handles, &handle{session: s, id: node.NodeID, locator: locator})
	}
	return handles, nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
	})
	return nil
}
