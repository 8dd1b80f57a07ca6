// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a reload.
const DefaultDebounce = 500 * time.Millisecond

// sectionFiles are the files LoadDir reads.
var sectionFiles = map[string]bool{
	"base.yaml":      true,
	"hook.yaml":      true,
	"transport.yaml": true,
}

// Watcher reloads a config directory when one of its section files changes.
// Bursts of writes collapse into a single reload.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(cfg *Config, file string)
	logger   *zap.Logger

	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}
}

// NewWatcher creates a watcher for dir. onChange receives the merged config
// and the base name of the file that triggered the reload. Invalid configs
// are logged and skipped.
func NewWatcher(dir string, onChange func(*Config, string), logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetDebounce overrides DefaultDebounce. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching the directory.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	go w.loop(ctx)
	w.logger.Info("config watcher started", zap.String("dir", w.dir))
	return nil
}

// Stop shuts down the watcher and waits for its loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		if w.fsw != nil {
			w.fsw.Close()
			<-w.done
		}
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				stopTimer()
				return
			}
			file := filepath.Base(ev.Name)
			if !sectionFiles[file] {
				continue
			}
			// Editors often replace files by rename, so creates count too.
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config file changed", zap.String("file", file), zap.String("op", ev.Op.String()))

			stopTimer()
			timer = time.AfterFunc(w.debounce, func() { w.reload(file) })

		case err, ok := <-w.fsw.Errors:
			if !ok {
				stopTimer()
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-ctx.Done():
			stopTimer()
			return

		case <-w.stopCh:
			stopTimer()
			return
		}
	}
}

func (w *Watcher) reload(file string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error("config reload failed", zap.String("file", file), zap.Error(err))
		return
	}

	w.logger.Info("config reloaded", zap.String("trigger", file))
	w.onChange(cfg, file)
}
