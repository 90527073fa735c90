package fixer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch re-runs the fix loop whenever project sources change. Events are
// debounced so one save producing several filesystem notifications
// triggers a single run. A failing run is reported and watching
// continues; only a watcher breakdown or context cancellation ends it.
func Watch(ctx context.Context, root string, debounce time.Duration, logger *zap.Logger, run func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addWatchDirs(watcher, root); err != nil {
		return err
	}
	logger.Info("watch mode active", zap.String("root", root))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			// New directories under src/ need their own watch.
			if event.Op.Has(fsnotify.Create) {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addWatchDirs(watcher, event.Name)
					continue
				}
			}
			if !relevantEvent(event) {
				continue
			}
			logger.Debug("change detected", zap.String("file", event.Name))
			if !pending {
				pending = true
				timer.Reset(debounce)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logger.Warn("watcher error", zap.Error(watchErr))

		case <-timer.C:
			pending = false
			if err := run(ctx); err != nil {
				logger.Error("fix run failed, still watching", zap.Error(err))
			}
		}
	}
}

// addWatchDirs registers root and every source directory beneath it,
// skipping build output and VCS metadata.
func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == "target" || name == ".git" || name == ".hg" || name == ".svn" {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			return fmt.Errorf("watch %s: %w", path, addErr)
		}
		return nil
	})
}

// relevantEvent keeps writes and creates of Rust sources and the
// manifest; editor temp files and chmod noise are ignored.
func relevantEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(event.Name)
	return strings.HasSuffix(base, ".rs") || base == manifestFileName
}
