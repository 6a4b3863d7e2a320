package security

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/logging"
)

// Watch reloads the engine rules whenever the file at path is written or
// recreated. An invalid file is logged and the current rules are kept.
// Watch blocks until ctx is done.
func (e *Engine) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	logger = logging.OrDiscard(logger)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != absPath || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if err := e.reloadFile(absPath); err != nil {
				logger.Error("security rules reload failed", "path", absPath, "err", err)
				continue
			}
			logger.Info("security rules reloaded", "path", absPath, "rules", len(e.Rules()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", "err", err)
		}
	}
}

func (e *Engine) reloadFile(path string) error {
	set, err := alerting.LoadRuleSetFromFile(path)
	if err != nil {
		return err
	}
	return e.ReloadRules(set)
}
