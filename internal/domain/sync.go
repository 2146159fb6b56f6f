package domain

import "time"

// SyncTrigger names what started a sync run.
type SyncTrigger string

const (
	// SyncTriggerStartup is the initial sync at process start.
	SyncTriggerStartup SyncTrigger = "startup"
	// SyncTriggerInterval is a background refresh tick.
	SyncTriggerInterval SyncTrigger = "interval"
	// SyncTriggerManual is an operator-initiated sync.
	SyncTriggerManual SyncTrigger = "manual"
	// SyncTriggerConfig is a sync forced by a config file change.
	SyncTriggerConfig SyncTrigger = "config"
)

// ConnectorState is the lifecycle state of one connector after a sync run.
type ConnectorState string

const (
	// ConnectorStateReady means hydration succeeded and tools are registered.
	ConnectorStateReady ConnectorState = "ready"
	// ConnectorStateFailed means hydration failed; previously registered
	// tools for the connector were left untouched.
	ConnectorStateFailed ConnectorState = "failed"
	// ConnectorStateRemoved means the connector left the manifest or was
	// disabled and its tools were unregistered.
	ConnectorStateRemoved ConnectorState = "removed"
)

// ConnectorOutcome is the per-connector record of one sync run.
type ConnectorOutcome struct {
	ConnectorID string
	Version     string
	State       ConnectorState
	Tools       int
	Reused      bool
	Err         error
	Duration    time.Duration
}

// SyncResult summarizes one completed sync run. A run that reaches
// hydration always resolves, however many connectors failed; only
// signature rejection or total manifest unavailability reject the run.
type SyncResult struct {
	RunID       string
	Trigger     SyncTrigger
	ManifestID  string
	GeneratedAt time.Time
	Stale       bool
	Connectors  []ConnectorOutcome
	StartedAt   time.Time
	Duration    time.Duration
}

// Failed returns the outcomes for connectors that failed to hydrate.
func (r SyncResult) Failed() []ConnectorOutcome {
	var out []ConnectorOutcome
	for _, c := range r.Connectors {
		if c.State == ConnectorStateFailed {
			out = append(out, c)
		}
	}
	return out
}

// Ready returns how many connectors hydrated successfully.
func (r SyncResult) Ready() int {
	n := 0
	for _, c := range r.Connectors {
		if c.State == ConnectorStateReady {
			n++
		}
	}
	return n
}

// Status maps the run to its metric status.
func (r SyncResult) Status() SyncStatus {
	if len(r.Failed()) > 0 {
		return SyncStatusPartial
	}
	return SyncStatusSuccess
}
