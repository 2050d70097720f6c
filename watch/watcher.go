// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/bizkb/consistency"
	"github.com/poiesic/bizkb/core"
)

// DefaultDebounce is how long a directory must stay quiet before it is synced.
const DefaultDebounce = 2 * time.Second

var (
	// ErrSyncerRequired is returned when no syncer is supplied.
	ErrSyncerRequired = errors.New("syncer is required")

	// ErrDirsRequired is returned when no directory source is supplied.
	ErrDirsRequired = errors.New("directory source is required")

	// ErrNothingToWatch is returned when no business directory can be watched.
	ErrNothingToWatch = errors.New("no business directories to watch")
)

// Syncer validates and repairs one business.
type Syncer interface {
	SyncBusiness(ctx context.Context, businessID string) core.SyncResult
}

var _ Syncer = (*consistency.Engine)(nil)

// Dirs resolves businesses to the directories holding their documents.
type Dirs interface {
	BusinessIDs() []string
	DocumentDir(businessID string) string
}

// Watcher syncs businesses whose document directories change.
type Watcher struct {
	dirs     Dirs
	syncer   Syncer
	debounce time.Duration
	onSync   func(core.SyncResult)
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// WithDebounce sets how long to wait after the last event before syncing.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) error {
		if d <= 0 {
			return errors.New("debounce must be positive")
		}
		w.debounce = d
		return nil
	}
}

// WithOnSync registers a callback invoked after every sync.
func WithOnSync(fn func(core.SyncResult)) Option {
	return func(w *Watcher) error {
		w.onSync = fn
		return nil
	}
}

// NewWatcher creates a watcher.
func NewWatcher(dirs Dirs, syncer Syncer, opts ...Option) (*Watcher, error) {
	if dirs == nil {
		return nil, ErrDirsRequired
	}
	if syncer == nil {
		return nil, ErrSyncerRequired
	}
	w := &Watcher{
		dirs:     dirs,
		syncer:   syncer,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "watch")
	return w, nil
}

// Run watches the given businesses, or every business when none are named,
// until ctx ends. Syncs run one at a time on the calling goroutine.
func (w *Watcher) Run(ctx context.Context, businessIDs ...string) error {
	if len(businessIDs) == 0 {
		businessIDs = w.dirs.BusinessIDs()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	byDir := make(map[string]string, len(businessIDs))
	for _, id := range businessIDs {
		dir := filepath.Clean(w.dirs.DocumentDir(id))
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("cannot watch business", "business", id, "dir", dir, "err", err)
			continue
		}
		byDir[dir] = id
		w.logger.Info("watching business", "business", id, "dir", dir)
	}
	if len(byDir) == 0 {
		return ErrNothingToWatch
	}

	due := make(chan string, len(byDir))
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()
	schedule := func(id string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[id]; ok {
			t.Reset(w.debounce)
			return
		}
		timers[id] = time.AfterFunc(w.debounce, func() {
			mu.Lock()
			delete(timers, id)
			mu.Unlock()
			select {
			case due <- id:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if id, ok := w.handleFsEvent(byDir, event); ok {
				schedule(id)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "err", err)
		case id := <-due:
			res := w.syncer.SyncBusiness(ctx, id)
			w.logger.Info("synced business", "business", id, "status", res.Status, "rebuilt", res.Rebuilt)
			if w.onSync != nil {
				w.onSync(res)
			}
		}
	}
}

// handleFsEvent maps an event to the business it affects. Attribute
// changes, hidden files and directories are ignored.
func (w *Watcher) handleFsEvent(byDir map[string]string, event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return "", false
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return "", false
		}
	}
	id, ok := byDir[filepath.Dir(filepath.Clean(event.Name))]
	if ok {
		w.logger.Debug("document changed", "business", id, "file", event.Name, "op", event.Op.String())
	}
	return id, ok
}
