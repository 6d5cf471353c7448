package filewatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"marketbot/internal/bootstrap/logging"
	"marketbot/internal/errs"
)

const defaultDebounce = 750 * time.Millisecond

// Watcher calls OnChange once a burst of writes to a single file settles.
// The parent directory is watched so editors that replace the file by
// rename are still seen.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(context.Context)
	ready    chan struct{}
}

func New(path string, debounce time.Duration, onChange func(context.Context)) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("watch path is required")
	}
	if onChange == nil {
		return nil, errors.New("change callback is required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the directory watch is registered.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run blocks until ctx is done. OnChange runs on the Run goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logging.WithAttrs(ctx, slog.String("component", "filewatch"), slog.String("path", w.path))

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create file watcher")
	}
	defer fsWatcher.Close()

	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		return errs.Wrapf(err, "watch %s", dir)
	}
	close(w.ready)
	logging.Info(ctx, "watching file for changes")

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}
		case <-fire:
			w.onChange(ctx)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn(ctx, "file watcher error", slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Name == "" {
		return false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}
