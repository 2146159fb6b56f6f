package domain

const (
	DefaultServiceMapTTLSeconds       = 300
	DefaultRefreshIntervalMs          = 300_000
	DefaultHydrationConcurrency       = 4
	DefaultConnectTimeoutSeconds      = 10
	DefaultCallTimeoutSeconds         = 30
	DefaultManifestTimeoutSeconds     = 15
	DefaultStreamableHTTPMaxRetries   = 3
	DefaultObservabilityListenAddress = "0.0.0.0:9090"

	// VersionAnnotationKey is injected into successful dispatch results
	// to report which registered version served the call.
	VersionAnnotationKey = "_toolVersion"

	// AsyncRefreshFlag and RefreshIntervalFlag are the environment
	// feature flags controlling the background refresh loop.
	AsyncRefreshFlag    = "TOOLGATE_ASYNC_REFRESH"
	RefreshIntervalFlag = "TOOLGATE_REFRESH_INTERVAL_MS"
)
