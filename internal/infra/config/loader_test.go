package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

func TestLoader_Success(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: "0123456789abcdef"
  apiKey: cp-key
  timeoutSeconds: 5
connector:
  apiKey: edge-key
  connectTimeoutSeconds: 7
  callTimeoutSeconds: 21
cachePath: /tmp/toolgate.db
observability:
  listenAddress: 127.0.0.1:9191
  metrics: true
  healthz: true
  debugLogs: false
flags:
  asyncRefresh: false
  refreshIntervalMs: 60000
`)

	loader := NewLoader(zap.NewNop())
	got, err := loader.Load(context.Background(), file)
	require.NoError(t, err)

	expect := domain.Config{
		ServiceMap: domain.ServiceMapSource{
			Endpoint:   "https://control.example.com/v1/service-map",
			SigningKey: "0123456789abcdef",
			APIKey:     "cp-key",
			Timeout:    5 * time.Second,
		},
		Connector: domain.ConnectorDefaults{
			APIKey:         "edge-key",
			ConnectTimeout: 7 * time.Second,
			CallTimeout:    21 * time.Second,
		},
		CachePath: "/tmp/toolgate.db",
		Observability: domain.ObservabilityConfig{
			ListenAddress:    "127.0.0.1:9191",
			MetricsEnabled:   boolPtr(true),
			HealthzEnabled:   boolPtr(true),
			DebugLogsEnabled: boolPtr(false),
		},
		Flags: domain.FeatureFlags{
			AsyncRefresh:    false,
			RefreshInterval: time.Minute,
		},
	}
	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Defaults(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: secret
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)

	require.Equal(t, time.Duration(domain.DefaultManifestTimeoutSeconds)*time.Second, cfg.ServiceMap.Timeout)
	require.Equal(t, time.Duration(domain.DefaultConnectTimeoutSeconds)*time.Second, cfg.Connector.ConnectTimeout)
	require.Equal(t, time.Duration(domain.DefaultCallTimeoutSeconds)*time.Second, cfg.Connector.CallTimeout)
	require.Equal(t, domain.DefaultObservabilityListenAddress, cfg.Observability.ListenAddress)
	require.Nil(t, cfg.Observability.MetricsEnabled)
	require.Nil(t, cfg.Observability.HealthzEnabled)
	require.Nil(t, cfg.Observability.DebugLogsEnabled)
	require.Equal(t, domain.DefaultFeatureFlags(), cfg.Flags)
	require.Empty(t, cfg.CachePath)
}

func TestLoader_EnvExpansion(t *testing.T) {
	t.Setenv("TG_SIGNING_KEY", "super-secret")
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: ${TG_SIGNING_KEY}
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "super-secret", cfg.ServiceMap.SigningKey)
}

func TestLoader_EnvExpansionNumeric(t *testing.T) {
	t.Setenv("SM_TIMEOUT", "9")
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: secret
  timeoutSeconds: ${SM_TIMEOUT}
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, 9*time.Second, cfg.ServiceMap.Timeout)
}

func TestLoader_FilePathEndpoint(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: ./testdata/service-map.json
  signingKey: secret
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "./testdata/service-map.json", cfg.ServiceMap.Endpoint)
}

func TestLoader_MissingRequiredFields(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: ""
  signingKey: ""
  timeoutSeconds: 0
connector:
  connectTimeoutSeconds: -1
  callTimeoutSeconds: 0
`)

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load(context.Background(), file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "serviceMap.endpoint is required")
	require.Contains(t, err.Error(), "serviceMap.signingKey is required")
	require.Contains(t, err.Error(), "serviceMap.timeoutSeconds must be")
	require.Contains(t, err.Error(), "connector.connectTimeoutSeconds must be")
	require.Contains(t, err.Error(), "connector.callTimeoutSeconds must be")
}

func TestLoader_InvalidEndpointURL(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: ftp://control.example.com/map
  signingKey: secret
`)

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load(context.Background(), file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "serviceMap.endpoint must be a valid http(s) URL")
}

func TestLoader_InvalidRefreshInterval(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: secret
flags:
  refreshIntervalMs: 0
`)

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load(context.Background(), file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "flags.refreshIntervalMs must be >= 1")
}

func TestLoader_FlagEnvOverrides(t *testing.T) {
	t.Setenv(domain.AsyncRefreshFlag, "false")
	t.Setenv(domain.RefreshIntervalFlag, "15000")
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: secret
flags:
  asyncRefresh: true
  refreshIntervalMs: 60000
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.False(t, cfg.Flags.AsyncRefresh)
	require.Equal(t, 15*time.Second, cfg.Flags.RefreshInterval)
}

func TestLoader_FlagEnvGarbageKeepsFileValues(t *testing.T) {
	t.Setenv(domain.AsyncRefreshFlag, "sometimes")
	t.Setenv(domain.RefreshIntervalFlag, "-20")
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: secret
flags:
  asyncRefresh: true
  refreshIntervalMs: 60000
`)

	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), file)
	require.NoError(t, err)
	require.True(t, cfg.Flags.AsyncRefresh)
	require.Equal(t, time.Minute, cfg.Flags.RefreshInterval)
}

func TestLoader_ContextCanceled(t *testing.T) {
	file := writeTempConfig(t, `
serviceMap:
  endpoint: https://control.example.com/v1/service-map
  signingKey: secret
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load(ctx, file)
	require.ErrorIs(t, err, context.Canceled)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "toolgate.yaml")
	normalized := strings.ReplaceAll(content, "\t", "  ")
	if err := os.WriteFile(path, []byte(normalized), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func boolPtr(v bool) *bool { return &v }
