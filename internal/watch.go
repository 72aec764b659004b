package internal

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/draft"
)

// debounceDelay batches editor save bursts into one reconcile kick.
const debounceDelay = 500 * time.Millisecond

// watchDrafts runs an fsnotify watcher on the drafts directory until ctx is
// cancelled, calling kick (debounced) when a Markdown draft changes. Hidden
// files, including the store's own temp files, are ignored so the daemon
// does not kick itself.
func watchDrafts(ctx context.Context, workspaceRoot string, logger *slog.Logger, kick func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	draftsDir := filepath.Join(workspaceRoot, draft.Dir)
	if err := w.Add(draftsDir); err != nil {
		return err
	}
	logger.Info("watching drafts", slog.String("dir", draftsDir))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounceDelay)
			fire = timer.C
		} else {
			timer.Reset(debounceDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("drafts watcher stopped")
			return nil

		case <-fire:
			kick()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("draft changed",
				slog.String("draft", name),
				slog.String("op", ev.Op.String()))
			schedule()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("drafts watcher error", slog.String("error", err.Error()))
		}
	}
}
