package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reload is the outcome of reloading a changed checks file.
type Reload struct {
	Checks *Checks
	Err    error
}

// Watcher reloads a checks file whenever it is written or replaced. The
// parent directory is watched so that editors replacing the file by rename
// are seen too.
type Watcher struct {
	// Updates receives one Reload per settled change. It is closed when the
	// watcher stops.
	Updates chan Reload

	path     string
	debounce time.Duration
	backoff  BackoffConfig
	logger   *slog.Logger
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path     string
	Debounce time.Duration
	Backoff  BackoffConfig
	Logger   *slog.Logger
}

// NewWatcher starts watching cfg.Path until ctx is canceled. When the
// directory cannot be watched yet, watching is retried with backoff.
func NewWatcher(ctx context.Context, cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watch checks: empty path")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("watch checks: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff.Initial <= 0 {
		backoff = DefaultBackoffConfig()
	}

	w := &Watcher{
		Updates:  make(chan Reload),
		path:     path,
		debounce: cfg.Debounce,
		backoff:  backoff,
		logger:   logger,
	}
	go w.run(ctx)
	return w, nil
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.Updates)

	bo := NewBackoff(time.Now().UnixNano(), w.backoff)
	for {
		fw, err := w.open()
		if err == nil {
			bo.Reset()
			retry := w.watch(ctx, fw)
			fw.Close()
			if !retry {
				return
			}
			continue
		}

		delay := bo.Next()
		w.logger.Warn("config_watch_failed",
			"path", w.path,
			"error", err,
			"attempt", bo.Attempts(),
			"retry_in", delay,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Watcher) open() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	w.logger.Debug("config_watch_started", "path", w.path)
	return fw, nil
}

// watch delivers reloads until ctx is done or the watcher breaks. It
// returns true when watching should be retried.
func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher) bool {
	// A nil channel blocks until the first relevant event arms the timer.
	var settle <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false

		case err, ok := <-fw.Errors:
			if !ok {
				return true
			}
			w.logger.Warn("config_watch_error", "path", w.path, "error", err)

		case evt, ok := <-fw.Events:
			if !ok {
				return true
			}
			if !w.relevant(evt) {
				continue
			}
			w.logger.Debug("config_changed", "path", w.path, "op", evt.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			settle = timer.C

		case <-settle:
			settle = nil
			checks, err := LoadChecks(w.path)
			select {
			case w.Updates <- Reload{Checks: checks, Err: err}:
			case <-ctx.Done():
				return false
			}
		}
	}
}

// relevant reports whether evt changed the watched file's content.
func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != w.path {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create) != 0
}
