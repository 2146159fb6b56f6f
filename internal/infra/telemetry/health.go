package telemetry

import (
	"sync"
	"time"

	"toolgate/internal/domain"
)

const (
	HealthStatusStarting    = "starting"
	HealthStatusOK          = "ok"
	HealthStatusUnavailable = "unavailable"
)

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status           string    `json:"status"`
	ManifestID       string    `json:"manifestId,omitempty"`
	ManifestStale    bool      `json:"manifestStale,omitempty"`
	ConnectorsReady  int       `json:"connectorsReady"`
	ConnectorsFailed int       `json:"connectorsFailed"`
	LastSyncAt       time.Time `json:"lastSyncAt,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
}

// HealthTracker folds sync outcomes into a readiness report. The service
// reports ok once any manifest is serving, even when some connectors
// failed to hydrate; only total manifest unavailability reports down.
type HealthTracker struct {
	mu     sync.RWMutex
	report HealthReport
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{report: HealthReport{Status: HealthStatusStarting}}
}

// RecordSync applies a resolved sync run to the report.
func (h *HealthTracker) RecordSync(result domain.SyncResult) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report = HealthReport{
		Status:           HealthStatusOK,
		ManifestID:       result.ManifestID,
		ManifestStale:    result.Stale,
		ConnectorsReady:  result.Ready(),
		ConnectorsFailed: len(result.Failed()),
		LastSyncAt:       result.StartedAt,
	}
}

// RecordSyncError applies a rejected sync run. The status only degrades
// when no manifest has ever served; a serving registry keeps its tools
// through failed refreshes.
func (h *HealthTracker) RecordSyncError(err error, at time.Time) {
	if h == nil || err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.report.LastError = err.Error()
	h.report.LastSyncAt = at
	if h.report.ManifestID == "" {
		h.report.Status = HealthStatusUnavailable
	}
}

func (h *HealthTracker) Report() HealthReport {
	if h == nil {
		return HealthReport{Status: HealthStatusOK}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report
}
