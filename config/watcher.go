package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/yejue/liteboty/errors"
)

// Watcher signals when a configuration file changes. It watches the file's
// directory, so editors that replace the file by rename are seen too, and
// collapses bursts of events inside the debounce window into one signal.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	changes chan struct{}
	sctx    *stopper.Context

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher starts watching path. Call Close to release the watch.
func NewWatcher(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = time.Second
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "Watcher", "NewWatcher", "resolve path")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "Watcher", "NewWatcher", "create fsnotify watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrap(err, "Watcher", "NewWatcher", "watch directory")
	}

	w := &Watcher{
		path:     abs,
		debounce: debounce,
		logger:   logger.With("component", "config-watcher", "path", abs),
		changes:  make(chan struct{}, 1),
		sctx:     stopper.WithContext(ctx),
	}

	w.sctx.Defer(func() {
		_ = fsw.Close()
	})
	w.sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(w.stopTimer)
		return w.loop(sctx, fsw)
	})

	return w, nil
}

// Changes delivers one value per debounced change burst.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.sctx.Stop(100 * time.Millisecond)
	return w.sctx.Wait()
}

func (w *Watcher) loop(sctx *stopper.Context, fsw *fsnotify.Watcher) error {
	for {
		select {
		case <-sctx.Stopping():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("config file event", "op", event.Op.String())
			w.arm()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// arm restarts the debounce timer.
func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	if w.sctx.IsStopping() {
		return
	}
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
