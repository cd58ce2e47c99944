// Package watch reloads the signature database when its rule source or any
// pattern file it references changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/klyr/wafcore/internal/ratelimit"
)

// Reloader rebuilds the active database from path.
type Reloader interface {
	ConfigureDatabase(path string) error
}

type Options struct {
	Path     string
	Reloader Reloader
	// Sources lists the files the active database was built from. The
	// watcher falls back to Path alone when it is nil or returns nothing.
	Sources             func() []string
	Debounce            time.Duration
	MaxReloadsPerMinute int
	Logger              *zap.Logger
}

type Watcher struct {
	path     string
	reloader Reloader
	sources  func() []string
	debounce time.Duration
	perMin   int
	logger   *zap.Logger
	limiter  *ratelimit.Limiter

	fs      *fsnotify.Watcher
	files   map[string]struct{}
	dirs    map[string]struct{}
	trigger chan struct{}
}

func New(opts Options) (*Watcher, error) {
	if opts.Path == "" {
		return nil, errors.New("rule path is required")
	}
	if opts.Reloader == nil {
		return nil, errors.New("reloader is required")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		path:     path,
		reloader: opts.Reloader,
		sources:  opts.Sources,
		debounce: opts.Debounce,
		perMin:   opts.MaxReloadsPerMinute,
		logger:   opts.Logger,
		limiter:  ratelimit.NewLimiter(),
		fs:       fs,
		files:    map[string]struct{}{},
		dirs:     map[string]struct{}{},
		trigger:  make(chan struct{}, 1),
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if err := w.refresh(); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

// Trigger requests an immediate reload that bypasses debounce and throttling.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done, reloading on relevant file changes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	schedule := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		pending = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("rule file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			schedule(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("rule file watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			if wait := w.throttle(time.Now()); wait > 0 {
				w.logger.Warn("rule reload throttled", zap.String("path", w.path), zap.Duration("retry_in", wait))
				schedule(wait)
				continue
			}
			w.reload("file_change")
		case <-w.trigger:
			w.reload("signal")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	_, ok := w.files[filepath.Clean(event.Name)]
	return ok
}

// throttle returns zero when a reload may run now, otherwise how long to wait.
func (w *Watcher) throttle(now time.Time) time.Duration {
	if w.perMin <= 0 {
		return 0
	}
	if w.limiter.Allow(w.path, ratelimit.PerMinute(w.perMin), 1, now) {
		return 0
	}
	return time.Minute / time.Duration(w.perMin)
}

func (w *Watcher) reload(reason string) {
	if err := w.reloader.ConfigureDatabase(w.path); err != nil {
		w.logger.Error("rule reload failed, previous database still active",
			zap.String("path", w.path),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	if err := w.refresh(); err != nil {
		w.logger.Error("rule file watch refresh failed", zap.Error(err))
	}
}

// refresh tracks the current source files and watches their directories.
// Directories are watched instead of files so editors that replace a file
// by rename are still seen.
func (w *Watcher) refresh() error {
	files := []string{w.path}
	if w.sources != nil {
		if sources := w.sources(); len(sources) > 0 {
			files = append(files, sources...)
		}
	}

	tracked := make(map[string]struct{}, len(files))
	for _, file := range files {
		file = filepath.Clean(file)
		tracked[file] = struct{}{}
		dir := filepath.Dir(file)
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs[dir] = struct{}{}
	}
	w.files = tracked
	return nil
}
