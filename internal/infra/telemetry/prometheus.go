package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"toolgate/internal/domain"
)

type PrometheusMetrics struct {
	syncDuration    *prometheus.HistogramVec
	callDuration    *prometheus.HistogramVec
	inflightCalls   *prometheus.GaugeVec
	proxyUp         *prometheus.GaugeVec
	registeredTools *prometheus.GaugeVec
	manifestAge     prometheus.Gauge
	manifestStale   prometheus.Gauge
	manifestFetch   *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_sync_duration_seconds",
				Help:    "Duration of service-map sync runs in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"trigger", "status", "reason"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_tool_call_duration_seconds",
				Help:    "Duration of dispatched tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"connector", "status", "reason"},
		),
		inflightCalls: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolgate_inflight_tool_calls",
				Help: "Tool calls currently executing per connector",
			},
			[]string{"connector"},
		),
		proxyUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "connector_proxy_up",
				Help: "Whether the connector's proxy session is connected (1) or down (0)",
			},
			[]string{"connector"},
		),
		registeredTools: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolgate_registered_tools",
				Help: "Tools currently registered per connector",
			},
			[]string{"connector"},
		),
		manifestAge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolgate_manifest_age_seconds",
				Help: "Age of the service-map manifest serving the registry",
			},
		),
		manifestStale: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolgate_manifest_stale",
				Help: "Whether the serving manifest is past its TTL (1) or fresh (0)",
			},
		),
		manifestFetch: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_manifest_fetch_duration_seconds",
				Help:    "Duration of service-map fetch attempts in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
	}
}

func (p *PrometheusMetrics) ObserveSync(metric domain.SyncMetric) {
	p.syncDuration.
		WithLabelValues(string(metric.Trigger), string(metric.Status), string(metric.Reason)).
		Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveToolCall(metric domain.CallMetric) {
	p.callDuration.
		WithLabelValues(metric.ConnectorID, string(metric.Status), string(metric.Reason)).
		Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) AddInflightCalls(connectorID string, delta int) {
	p.inflightCalls.WithLabelValues(connectorID).Add(float64(delta))
}

func (p *PrometheusMetrics) SetProxyUp(connectorID string, up bool) {
	p.proxyUp.WithLabelValues(connectorID).Set(boolGauge(up))
}

func (p *PrometheusMetrics) SetRegisteredTools(connectorID string, count int) {
	p.registeredTools.WithLabelValues(connectorID).Set(float64(count))
}

func (p *PrometheusMetrics) SetManifestAge(age time.Duration) {
	p.manifestAge.Set(age.Seconds())
}

func (p *PrometheusMetrics) SetManifestStale(stale bool) {
	p.manifestStale.Set(boolGauge(stale))
}

func (p *PrometheusMetrics) ObserveManifestFetch(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.manifestFetch.WithLabelValues(status).Observe(duration.Seconds())
}

// DropConnector removes the per-connector gauge series so a connector that
// left the service map stops reporting. Cumulative series keep their history.
func (p *PrometheusMetrics) DropConnector(connectorID string) {
	p.proxyUp.DeleteLabelValues(connectorID)
	p.registeredTools.DeleteLabelValues(connectorID)
	p.inflightCalls.DeleteLabelValues(connectorID)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
