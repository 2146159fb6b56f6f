// Package app wires the toolgate runtime: configuration, the service-map
// loader, the connector manager, the versioned tool registry and the
// stdio call surface. The cmd layer stays a thin shell over this package.
package app

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"toolgate/internal/domain"
	"toolgate/internal/infra/config"
	"toolgate/internal/infra/proxy"
	"toolgate/internal/infra/telemetry"
)

type App struct {
	logger *zap.Logger
	logs   *telemetry.LogBuffer

	// createProxy is swappable so tests can serve connectors without a
	// live MCP endpoint.
	createProxy domain.ProxyFactory
}

type ServeConfig struct {
	ConfigPath string
}

type SyncConfig struct {
	ConfigPath string
	Force      bool
}

type ValidateConfig struct {
	ConfigPath string
}

type ToolsConfig struct {
	ConfigPath string
	Prefix     string
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	logs := telemetry.NewLogBuffer(telemetry.DefaultLogBufferSize, zapcore.DebugLevel)
	logger = logger.Named("app").WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, logs.Core())
	}))

	return &App{
		logger:      logger,
		logs:        logs,
		createProxy: proxy.NewFactory(logger),
	}
}

// Serve runs the daemon: one startup sync, the background refresh loop,
// the observability listener, the config watcher and the stdio surface.
// Stdin reaching EOF leaves the daemon running for its background work;
// only ctx cancellation ends Serve.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	loader := config.NewLoader(a.logger)
	conf, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.String("endpoint", conf.ServiceMap.Endpoint),
		zap.Bool("asyncRefresh", conf.Flags.AsyncRefresh))

	rt, err := a.buildRuntime(conf)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	controller := telemetry.NewObservabilityController(telemetry.ObservabilityControllerOptions{
		DefaultMetricsEnabled: true,
		DefaultHealthzEnabled: true,
		Registry:              rt.prometheus,
		Health:                rt.health,
		Logs:                  a.logs,
		Logger:                a.logger,
	})
	if err := controller.Apply(ctx, conf.Observability); err != nil {
		return err
	}
	defer controller.Stop()

	rt.manager.Start(ctx)

	watcher := newConfigWatcher(configWatcherOptions{
		Path:       cfg.ConfigPath,
		Loader:     loader,
		Manager:    rt.manager,
		Controller: controller,
		Initial:    conf,
		Logger:     a.logger,
	})
	go watcher.run(ctx)

	if err := a.serveStdin(ctx, rt); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// SyncOnce loads the configuration, runs a single sync against the service
// map and tears the runtime down again.
func (a *App) SyncOnce(ctx context.Context, cfg SyncConfig) (domain.SyncResult, error) {
	conf, err := config.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return domain.SyncResult{}, err
	}
	rt, err := a.buildRuntime(conf)
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer rt.close(context.Background())

	return rt.manager.Sync(ctx, cfg.Force)
}

// ListTools syncs once and returns the registry contents, optionally
// filtered by a qualified-name prefix.
func (a *App) ListTools(ctx context.Context, cfg ToolsConfig) ([]domain.ToolDescriptor, error) {
	conf, err := config.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	rt, err := a.buildRuntime(conf)
	if err != nil {
		return nil, err
	}
	defer rt.close(context.Background())

	if _, err := rt.manager.Sync(ctx, false); err != nil {
		return nil, err
	}
	return toolDescriptors(rt.registry.ListByPrefix(cfg.Prefix)), nil
}

// ValidateConfig validates the configuration at the provided path.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	conf, err := config.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}

	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.String("endpoint", conf.ServiceMap.Endpoint),
		zap.Bool("asyncRefresh", conf.Flags.AsyncRefresh),
		zap.Duration("refreshInterval", conf.Flags.RefreshInterval))
	return nil
}

func toolDescriptors(entries []domain.RegisteredTool) []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, 0, len(entries))
	for _, entry := range entries {
		out = append(out, domain.ToolDescriptor{
			Name:        entry.Name,
			Version:     entry.Version,
			ConnectorID: entry.ConnectorID,
			Description: entry.Description,
			Tags:        entry.Tags,
			Scopes:      entry.Scopes,
		})
	}
	return out
}
