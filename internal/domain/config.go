package domain

import "time"

// FeatureFlags are runtime toggles read from the environment. Invalid
// values never fail startup; they fall back to the defaults silently.
type FeatureFlags struct {
	// AsyncRefresh enables the background manifest refresh loop.
	AsyncRefresh bool
	// RefreshInterval is the background refresh period.
	RefreshInterval time.Duration
}

// DefaultFeatureFlags returns the flag values used when the environment
// sets nothing.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		AsyncRefresh:    true,
		RefreshInterval: DefaultRefreshIntervalMs * time.Millisecond,
	}
}

// ServiceMapSource locates and authenticates the signed manifest.
type ServiceMapSource struct {
	// Endpoint is the HTTP URL serving the signed service map. A
	// file path is accepted for local development.
	Endpoint string
	// SigningKey verifies the manifest MAC. Required.
	SigningKey string
	// APIKey, when set, is sent as a bearer credential on manifest
	// fetches.
	APIKey string
	// Timeout bounds one manifest fetch.
	Timeout time.Duration
}

// ConnectorDefaults apply to every connector unless its entry overrides them.
type ConnectorDefaults struct {
	// APIKey is the shared credential sent to connector endpoints.
	APIKey string
	// ConnectTimeout bounds one proxy connect plus tool listing.
	ConnectTimeout time.Duration
	// CallTimeout bounds one remote tool call.
	CallTimeout time.Duration
}

// ObservabilityConfig controls the /metrics and /healthz listener. Nil
// toggles keep the caller's defaults.
type ObservabilityConfig struct {
	// ListenAddress is the host:port to bind. Empty uses
	// DefaultObservabilityListenAddress.
	ListenAddress  string
	MetricsEnabled *bool
	HealthzEnabled *bool
	// DebugLogsEnabled exposes the in-memory log ring at /debug/logs.
	DebugLogsEnabled *bool
}

// Config is the normalized runtime configuration. Loading and validation
// live in the config package; everything here is ready to use.
type Config struct {
	ServiceMap ServiceMapSource
	Connector  ConnectorDefaults
	// CachePath is the bbolt file persisting verified manifests across
	// restarts. Empty disables persistence.
	CachePath     string
	Observability ObservabilityConfig
	Flags         FeatureFlags
}
