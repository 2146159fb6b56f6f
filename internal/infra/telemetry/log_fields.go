package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent       = "event"
	FieldConnectorID = "connectorId"
	FieldManifestID  = "manifestId"
	FieldRunID       = "runId"
	FieldTrigger     = "trigger"
	FieldTool        = "tool"
	FieldVersion     = "version"
	FieldDurationMs  = "duration_ms"
	FieldRequestID   = "request_id"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"
)

const (
	EventSyncSuccess      = "sync_success"
	EventSyncFailure      = "sync_failure"
	EventHydrationFailure = "hydration_failure"
	EventConnectorRemoved = "connector_removed"
	EventCallFailure      = "call_failure"
	EventConfigReload     = "config_reload"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ConnectorField(connectorID string) zap.Field {
	return zap.String(FieldConnectorID, connectorID)
}

func ManifestField(manifestID string) zap.Field {
	return zap.String(FieldManifestID, manifestID)
}

func RunIDField(runID string) zap.Field {
	return zap.String(FieldRunID, runID)
}

func TriggerField(trigger string) zap.Field {
	return zap.String(FieldTrigger, trigger)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func VersionField(version string) zap.Field {
	return zap.String(FieldVersion, version)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}
