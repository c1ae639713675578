package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path whenever it is written and passes the new Config to
// onChange. A reload that fails is logged and the previous config stays in
// effect. Watch runs until ctx is cancelled.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(*Config)) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watching config: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// editors that save by rename replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	log.Info("watching config for changes", zap.String("path", path))

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Error("config reload failed, keeping previous config",
					zap.String("path", path), zap.Error(err))
				continue
			}

			log.Info("config reloaded", zap.String("path", path))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", zap.Error(err))
		}
	}
}
