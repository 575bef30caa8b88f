package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches the bursts of events one save produces.
const DefaultDebounce = 300 * time.Millisecond

// Watch reloads the config at path (DefaultPath when empty) whenever the file
// changes and passes the result to onChange. Reload failures go to onErr and
// the previous config stays in effect. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, so editors that save
// by renaming a temp file over it are seen, and a file created after startup
// is picked up.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(Config), onErr func(error)) error {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onErr != nil {
				onErr(fmt.Errorf("config: watch: %w", err))
			}

		case <-timer.C:
			cfg, err := Load(path)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			onChange(cfg)
		}
	}
}
