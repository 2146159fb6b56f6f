package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/connector"
	"toolgate/internal/infra/dispatch"
	"toolgate/internal/infra/registry"
	"toolgate/internal/infra/servicemap"
	"toolgate/internal/infra/telemetry"
)

func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())
	return reg
}

// runtime bundles the wired components behind one App run. close tears
// them down in reverse dependency order.
type runtime struct {
	logger     *zap.Logger
	config     domain.Config
	prometheus *prometheus.Registry
	metrics    domain.Metrics
	health     *telemetry.HealthTracker
	store      *servicemap.Store
	manifests  *servicemap.Loader
	registry   *registry.Registry
	manager    *connector.Manager
	dispatcher domain.ToolDispatcher
}

func (a *App) buildRuntime(conf domain.Config) (*runtime, error) {
	promRegistry := NewMetricsRegistry()
	metrics := telemetry.NewPrometheusMetrics(promRegistry)
	health := telemetry.NewHealthTracker()

	// A broken cache file degrades to fetch-only operation instead of
	// refusing to start.
	var store *servicemap.Store
	if conf.CachePath != "" {
		opened, err := servicemap.OpenStore(conf.CachePath)
		if err != nil {
			a.logger.Warn("manifest cache unavailable",
				zap.String("path", conf.CachePath),
				zap.Error(err))
		} else {
			store = opened
		}
	}

	manifestClient := &http.Client{Timeout: conf.ServiceMap.Timeout}
	manifests := servicemap.NewLoader(conf.ServiceMap, manifestClient, store, metrics, a.logger)

	reg := registry.New()
	manager, err := connector.NewManager(connector.Options{
		Loader:      manifests,
		Registry:    reg,
		CreateProxy: a.createProxy,
		Metrics:     metrics,
		Health:      health,
		Logger:      a.logger,
		Flags:       conf.Flags,
		Defaults:    conf.Connector,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	dispatcher := dispatch.NewMetricDispatcher(dispatch.New(reg, a.logger), metrics)

	return &runtime{
		logger:     a.logger,
		config:     conf,
		prometheus: promRegistry,
		metrics:    metrics,
		health:     health,
		store:      store,
		manifests:  manifests,
		registry:   reg,
		manager:    manager,
		dispatcher: dispatcher,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	if err := rt.manager.Disconnect(ctx); err != nil {
		rt.logger.Warn("connector disconnect failed", zap.Error(err))
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("manifest cache close failed", zap.Error(err))
		}
	}
}
