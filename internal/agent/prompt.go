package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LoadPrompt reads the system prompt from a file.
func LoadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WatchPrompt watches the prompt file and pushes updated content into the
// invoker until ctx is cancelled. Sessions already created keep their prompt;
// only new sessions see the change.
func WatchPrompt(ctx context.Context, path string, invoker *ChatInvoker) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}

	// Watch the directory: editors replace files via rename, which drops
	// a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				prompt, err := LoadPrompt(path)
				if err != nil {
					slog.Warn("prompt reload failed", "path", path, "error", err)
					continue
				}
				invoker.SetPrompt(prompt)
				slog.Info("system prompt reloaded", "path", path, "chars", len(prompt))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("prompt watcher error", "error", err)
			}
		}
	}()

	return nil
}
