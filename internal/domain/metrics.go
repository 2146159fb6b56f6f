package domain

import "time"

// SyncStatus labels the outcome of a service-map sync run.
type SyncStatus string

const (
	// SyncStatusSuccess indicates the run registered every enabled connector.
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusPartial indicates the run completed with some connectors failed.
	SyncStatusPartial SyncStatus = "partial"
	// SyncStatusError indicates the run was rejected before hydration.
	SyncStatusError SyncStatus = "error"
)

// SyncReason describes why a sync run ended with a status.
type SyncReason string

const (
	// SyncReasonSuccess indicates the run succeeded.
	SyncReasonSuccess SyncReason = "success"
	// SyncReasonSignature indicates the manifest signature was rejected.
	SyncReasonSignature SyncReason = "signature_invalid"
	// SyncReasonFetchFailed indicates the manifest could not be fetched
	// and no cached copy was available.
	SyncReasonFetchFailed SyncReason = "fetch_failed"
	// SyncReasonDecodeFailed indicates the manifest payload was malformed.
	SyncReasonDecodeFailed SyncReason = "decode_failed"
	// SyncReasonStaleServed indicates the run fell back to an expired cache.
	SyncReasonStaleServed SyncReason = "stale_served"
	// SyncReasonConnectorFailed indicates one or more connectors failed to hydrate.
	SyncReasonConnectorFailed SyncReason = "connector_failed"
	// SyncReasonClosed indicates the manager was already shut down.
	SyncReasonClosed SyncReason = "closed"
	// SyncReasonUnknown indicates an unknown failure.
	SyncReasonUnknown SyncReason = "unknown"
)

// CallStatus labels the outcome of a dispatched tool call.
type CallStatus string

const (
	// CallStatusSuccess indicates a successful call.
	CallStatusSuccess CallStatus = "success"
	// CallStatusError indicates a failed call.
	CallStatusError CallStatus = "error"
)

// CallReason describes why a dispatched call ended with a status.
type CallReason string

const (
	// CallReasonSuccess indicates the call succeeded.
	CallReasonSuccess CallReason = "success"
	// CallReasonNotFound indicates no tool matched the requested name.
	CallReasonNotFound CallReason = "not_found"
	// CallReasonNoVersion indicates no version satisfied the constraint.
	CallReasonNoVersion CallReason = "no_version"
	// CallReasonBadConstraint indicates the constraint string was invalid.
	CallReasonBadConstraint CallReason = "bad_constraint"
	// CallReasonExecutionFailed indicates the remote call failed.
	CallReasonExecutionFailed CallReason = "execution_failed"
	// CallReasonCanceled indicates the caller's context ended the call.
	CallReasonCanceled CallReason = "canceled"
	// CallReasonUnknown indicates an unknown failure.
	CallReasonUnknown CallReason = "unknown"
)

// SyncMetric captures metrics for one sync run.
type SyncMetric struct {
	Trigger    SyncTrigger
	Status     SyncStatus
	Reason     SyncReason
	Connectors int
	Failed     int
	Duration   time.Duration
}

// CallMetric captures metrics for one dispatched tool call.
type CallMetric struct {
	ConnectorID string
	Tool        string
	Status      CallStatus
	Reason      CallReason
	Duration    time.Duration
}

// Metrics records operational metrics for syncing and dispatch.
type Metrics interface {
	ObserveSync(metric SyncMetric)
	ObserveToolCall(metric CallMetric)
	AddInflightCalls(connectorID string, delta int)
	SetProxyUp(connectorID string, up bool)
	SetRegisteredTools(connectorID string, count int)
	SetManifestAge(age time.Duration)
	SetManifestStale(stale bool)
	ObserveManifestFetch(duration time.Duration, err error)
	DropConnector(connectorID string)
}
