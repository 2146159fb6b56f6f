package app

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/config"
	"toolgate/internal/infra/connector"
	"toolgate/internal/infra/telemetry"
)

const configReloadDebounce = 200 * time.Millisecond

// configWatcher re-reads the config file when it changes on disk, applies
// the observability section in place and forces a manifest re-sync. The
// service map source, connector defaults and feature flags only take
// effect on restart; edits there keep the running values and log a
// warning.
type configWatcher struct {
	logger     *zap.Logger
	loader     *config.Loader
	path       string
	manager    *connector.Manager
	controller *telemetry.ObservabilityController

	reloadMu sync.Mutex
	current  domain.Config
}

type configWatcherOptions struct {
	Path       string
	Loader     *config.Loader
	Manager    *connector.Manager
	Controller *telemetry.ObservabilityController
	Initial    domain.Config
	Logger     *zap.Logger
}

func newConfigWatcher(opts configWatcherOptions) *configWatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &configWatcher{
		logger:     logger.Named("config_watcher"),
		loader:     opts.Loader,
		path:       opts.Path,
		manager:    opts.Manager,
		controller: opts.Controller,
		current:    opts.Initial,
	}
}

// run blocks until ctx is done. The watch covers the config file's
// directory because editors replace the file by rename; events are
// filtered back down to the file itself and debounced.
func (w *configWatcher) run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("config watcher add failed", zap.String("path", w.path), zap.Error(err))
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if !w.eventMatches(event.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(configReloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(configReloadDebounce)
		case <-timerChan(timer):
			timer = nil
			w.reload(ctx)
		}
	}
}

func (w *configWatcher) eventMatches(name string) bool {
	if name == "" {
		return false
	}
	return filepath.Base(name) == filepath.Base(w.path)
}

func (w *configWatcher) reload(ctx context.Context) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.loader.Load(ctx, w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.Error(err))
		return
	}

	if err := w.controller.Apply(ctx, next.Observability); err != nil {
		w.logger.Warn("observability apply failed", zap.Error(err))
	}
	if next.ServiceMap != w.current.ServiceMap ||
		next.Connector != w.current.Connector ||
		next.CachePath != w.current.CachePath ||
		next.Flags != w.current.Flags {
		w.logger.Warn("runtime config changed; restart required to apply")
	}
	w.current = next

	w.logger.Info("configuration reloaded",
		telemetry.EventField(telemetry.EventConfigReload),
		zap.String("config", w.path))
	if _, err := w.manager.Reload(ctx); err != nil {
		w.logger.Warn("config-triggered sync failed", zap.Error(err))
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
