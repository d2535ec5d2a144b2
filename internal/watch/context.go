// Package watch keeps the coordinator's contextual factors in sync with an
// operator-edited file. Editors save through renames and partial writes, so
// events are debounced and the file is re-registered after replacement.
package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/observability"
)

// debounceWindow coalesces the event burst a single editor save produces.
const debounceWindow = 250 * time.Millisecond

// ContextWatcher reloads a contextual-factors file on change and hands each
// valid snapshot to the update callback.
type ContextWatcher struct {
	path   string
	update func(model.ContextualFactors)

	fsWatcher *fsnotify.Watcher
	log       *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	closeCh chan struct{}
}

// NewContextWatcher starts watching path. The containing directory is
// watched rather than the file itself so atomic-rename saves keep working.
// The file is loaded once up front; a missing file is not an error, the
// watcher just waits for it to appear.
func NewContextWatcher(path string, update func(model.ContextualFactors)) (*ContextWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating context watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &ContextWatcher{
		path:      abs,
		update:    update,
		fsWatcher: fsWatcher,
		log:       observability.Logger(),
		closeCh:   make(chan struct{}),
	}

	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	if factors, err := LoadContextFile(abs); err == nil {
		update(factors)
	} else {
		w.log.Info("context file not loaded yet", "path", abs, "reason", err.Error())
	}

	go w.run()
	return w, nil
}

// Close stops the watcher and releases resources.
func (w *ContextWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.closeCh)
	return w.fsWatcher.Close()
}

func (w *ContextWatcher) run() {
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("context watcher error", "error", err)
		}
	}
}

// scheduleReload arms (or re-arms) the debounce timer.
func (w *ContextWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *ContextWatcher) reload() {
	factors, err := LoadContextFile(w.path)
	if err != nil {
		// A half-written or invalid file keeps the previous snapshot.
		w.log.Warn("context file reload failed, keeping previous context",
			"path", w.path,
			"error", err,
		)
		return
	}
	w.update(factors)
}

// LoadContextFile parses a contextual-factors file. Unset fields keep the
// defaults; unknown workload or energy values are rejected.
func LoadContextFile(path string) (model.ContextualFactors, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := model.DefaultContext()
	v.SetDefault("current_workload", string(defaults.Workload))
	v.SetDefault("energy_level", string(defaults.Energy))
	v.SetDefault("deadline_pressure", defaults.DeadlinePressure)
	v.SetDefault("meetings_today", defaults.MeetingsToday)

	if err := v.ReadInConfig(); err != nil {
		return model.ContextualFactors{}, fmt.Errorf("reading context file: %w", err)
	}

	var factors model.ContextualFactors
	if err := v.Unmarshal(&factors); err != nil {
		return model.ContextualFactors{}, fmt.Errorf("parsing context file: %w", err)
	}
	if err := factors.Validate(); err != nil {
		return model.ContextualFactors{}, err
	}
	return factors, nil
}
