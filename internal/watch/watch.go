// Package watch re-runs work when files under watched paths change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Config controls what a Watcher observes.
type Config struct {
	// Dirs are watched recursively. Hidden subdirectories are skipped.
	Dirs []string

	// Files are watched individually. Their parent directories carry the
	// watch so editors that replace files on save still produce events.
	Files []string

	// Ignore lists path prefixes whose events are discarded.
	Ignore []string

	// Debounce is the quiet period collected into one callback.
	// Defaults to 100ms.
	Debounce time.Duration

	// Logger receives watcher diagnostics. If nil, logging is disabled.
	Logger *slog.Logger
}

// Watcher delivers debounced batches of changed paths.
type Watcher struct {
	dirs     []string
	files    map[string]struct{}
	ignore   []string
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a watcher for the configured paths.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Dirs) == 0 && len(cfg.Files) == 0 {
		return nil, errors.New("nothing to watch")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{
		files:    make(map[string]struct{}, len(cfg.Files)),
		debounce: debounce,
		logger:   logger,
	}
	for _, dir := range cfg.Dirs {
		w.dirs = append(w.dirs, filepath.Clean(dir))
	}
	for _, file := range cfg.Files {
		w.files[filepath.Clean(file)] = struct{}{}
	}
	for _, prefix := range cfg.Ignore {
		w.ignore = append(w.ignore, filepath.Clean(prefix))
	}
	return w, nil
}

// Run watches until ctx is cancelled, invoking fn with each debounced
// batch of changed paths. fn is called from a timer goroutine; callers
// that cannot tolerate overlapping invocations must serialize.
func (w *Watcher) Run(ctx context.Context, fn func(changed []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range w.dirs {
		if err := watchDirRecursive(watcher, dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	parents := make(map[string]struct{})
	for file := range w.files {
		parents[filepath.Dir(file)] = struct{}{}
	}
	for dir := range parents {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	var mu sync.Mutex
	var pending []string
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			name := filepath.Clean(event.Name)
			if !w.relevant(name) {
				continue
			}

			// New directories start being watched as they appear.
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(name); err == nil && fi.IsDir() {
					if err := watchDirRecursive(watcher, name); err != nil {
						w.logger.Warn("failed to watch new directory", "dir", name, "error", err)
					}
				}
			}

			mu.Lock()
			pending = append(pending, name)
			mu.Unlock()

			// Debounce
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				mu.Lock()
				changed := pending
				pending = nil
				mu.Unlock()

				slices.Sort(changed)
				changed = slices.Compact(changed)
				if len(changed) == 0 {
					return
				}
				w.logger.Debug("change detected", "paths", len(changed))
				fn(changed)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// relevant reports whether an event path should trigger the callback.
func (w *Watcher) relevant(path string) bool {
	if _, ok := w.files[path]; ok {
		return true
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	for _, prefix := range w.ignore {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return false
		}
	}
	for _, dir := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
