// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/xg2g-drm/internal/log"
)

// Watcher reloads the config file when it changes and hands every valid
// result to onChange. Invalid files are logged and the previous config
// stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Config)
	logger   zerolog.Logger

	mu      sync.Mutex
	current Config
}

func NewWatcher(path string, initial Config, onChange func(Config)) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 250 * time.Millisecond,
		onChange: onChange,
		logger:   xglog.WithComponent("config"),
		current:  initial,
	}
}

// Current returns the last successfully loaded config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches until ctx is done. The parent directory is watched so that
// editors and atomic renames are both observed.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		w.logger.Info().Str(xglog.FieldEvent, "config.watcher_disabled").Msg("no config file, watcher disabled")
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.logger.Info().Str(xglog.FieldEvent, "config.watcher_started").Str("path", w.path).Msg("watching config file for changes")

	target := filepath.Clean(w.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Str(xglog.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Msg("config reload failed, keeping previous config")
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info().Str(xglog.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
