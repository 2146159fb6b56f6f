package telemetry

import (
	"time"

	"toolgate/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveSync(_ domain.SyncMetric) {}

func (n *NoopMetrics) ObserveToolCall(_ domain.CallMetric) {}

func (n *NoopMetrics) AddInflightCalls(_ string, _ int) {}

func (n *NoopMetrics) SetProxyUp(_ string, _ bool) {}

func (n *NoopMetrics) SetRegisteredTools(_ string, _ int) {}

func (n *NoopMetrics) SetManifestAge(_ time.Duration) {}

func (n *NoopMetrics) SetManifestStale(_ bool) {}

func (n *NoopMetrics) ObserveManifestFetch(_ time.Duration, _ error) {}

func (n *NoopMetrics) DropConnector(_ string) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
