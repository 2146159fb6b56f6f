package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/config"
	"toolgate/internal/infra/servicemap"
)

const appSigningKey = "app-secret"

// stubConnectors hands out in-memory proxies keyed by connector id and
// records every proxy it ever built.
type stubConnectors struct {
	mu      sync.Mutex
	tools   map[string][]domain.RemoteTool
	created []*stubProxy
}

func newStubConnectors() *stubConnectors {
	return &stubConnectors{tools: make(map[string][]domain.RemoteTool)}
}

func (s *stubConnectors) serve(connectorID string, tools ...string) {
	remote := make([]domain.RemoteTool, 0, len(tools))
	for _, name := range tools {
		remote = append(remote, domain.RemoteTool{
			Name:        name,
			InputSchema: json.RawMessage(`{"type":"object"}`),
		})
	}
	s.mu.Lock()
	s.tools[connectorID] = remote
	s.mu.Unlock()
}

func (s *stubConnectors) factory(opts domain.ProxyOptions) (domain.RemoteToolProxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proxy := &stubProxy{tools: append([]domain.RemoteTool(nil), s.tools[opts.ConnectorID]...)}
	s.created = append(s.created, proxy)
	return proxy, nil
}

func (s *stubConnectors) proxies() []*stubProxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stubProxy(nil), s.created...)
}

type stubProxy struct {
	tools       []domain.RemoteTool
	disconnects atomic.Int64
}

func (p *stubProxy) Connect(context.Context) error { return nil }

func (p *stubProxy) ListTools(context.Context) ([]domain.RemoteTool, error) {
	return p.tools, nil
}

func (p *stubProxy) CallTool(_ context.Context, name string, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"served":%q}`, name)), nil
}

func (p *stubProxy) Disconnect(context.Context) error {
	p.disconnects.Add(1)
	return nil
}

func connectorDoc(id, version string, enabled bool) map[string]any {
	return map[string]any{
		"id":       id,
		"version":  version,
		"endpoint": "https://" + id + ".example.com/mcp",
		"auth":     map[string]any{"type": "bearer"},
		"enabled":  enabled,
		"metadata": map[string]any{"brand": "acme"},
	}
}

func writeSignedManifest(t *testing.T, path string, connectors ...map[string]any) {
	t.Helper()
	doc := map[string]any{
		"id":          "svc-map-app",
		"brand":       "acme",
		"generatedAt": "2026-08-25T10:00:00Z",
		"ttlSeconds":  300,
		"connectors":  connectors,
	}
	unsigned, err := json.Marshal(doc)
	require.NoError(t, err)
	signature, err := servicemap.Sign(unsigned, appSigningKey)
	require.NoError(t, err)
	doc["signature"] = signature
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func writeAppConfig(t *testing.T, dir, manifestPath string) string {
	t.Helper()
	content := fmt.Sprintf(`serviceMap:
  endpoint: %s
  signingKey: %s
flags:
  asyncRefresh: false
`, manifestPath, appSigningKey)
	path := filepath.Join(dir, "toolgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApp_SyncOnceHydratesManifestConnectors(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "service-map.json")
	writeSignedManifest(t, manifestPath,
		connectorDoc("search", "1.2.0", true),
		connectorDoc("dormant", "2.0.0", false))
	configPath := writeAppConfig(t, dir, manifestPath)

	stubs := newStubConnectors()
	stubs.serve("search", "query", "lookup")

	a := New(zap.NewNop())
	a.createProxy = stubs.factory

	result, err := a.SyncOnce(context.Background(), SyncConfig{ConfigPath: configPath})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncTriggerManual, result.Trigger)
	assert.Equal(t, "svc-map-app", result.ManifestID)
	assert.Equal(t, 1, result.Ready())
	assert.Empty(t, result.Failed())

	// SyncOnce tears the runtime down; the one hydrated proxy must have
	// been disconnected exactly once.
	proxies := stubs.proxies()
	require.Len(t, proxies, 1)
	assert.Equal(t, int64(1), proxies[0].disconnects.Load())
}

func TestApp_SyncOnceRejectsTamperedManifest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "service-map.json")
	writeSignedManifest(t, manifestPath, connectorDoc("search", "1.2.0", true))

	raw, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["brand"] = "evil"
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, tampered, 0o644))

	configPath := writeAppConfig(t, dir, manifestPath)

	a := New(zap.NewNop())
	a.createProxy = newStubConnectors().factory

	_, err = a.SyncOnce(context.Background(), SyncConfig{ConfigPath: configPath})
	require.Error(t, err)
	var sigErr *domain.SignatureError
	assert.True(t, errors.As(err, &sigErr))
}

func TestApp_ListToolsReturnsQualifiedDescriptors(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "service-map.json")
	writeSignedManifest(t, manifestPath, connectorDoc("search", "1.2.0", true))
	configPath := writeAppConfig(t, dir, manifestPath)

	stubs := newStubConnectors()
	stubs.serve("search", "query")

	a := New(zap.NewNop())
	a.createProxy = stubs.factory

	tools, err := a.ListTools(context.Background(), ToolsConfig{ConfigPath: configPath})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search.query", tools[0].Name)
	assert.Equal(t, "1.2.0", tools[0].Version)
	assert.Equal(t, "search", tools[0].ConnectorID)

	none, err := a.ListTools(context.Background(), ToolsConfig{ConfigPath: configPath, Prefix: "other."})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApp_CallFlowsThroughToRemoteRawName(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "service-map.json")
	writeSignedManifest(t, manifestPath, connectorDoc("search", "1.2.0", true))
	configPath := writeAppConfig(t, dir, manifestPath)

	stubs := newStubConnectors()
	stubs.serve("search", "query")

	a := New(zap.NewNop())
	a.createProxy = stubs.factory

	ctx := context.Background()
	conf, err := config.NewLoader(zap.NewNop()).Load(ctx, configPath)
	require.NoError(t, err)
	rt, err := a.buildRuntime(conf)
	require.NoError(t, err)
	defer rt.close(ctx)

	_, err = rt.manager.Sync(ctx, false)
	require.NoError(t, err)

	resp := a.handleRequest(ctx, rt, callRequest(t, "req-9", domain.ToolCallRequest{
		Name:      "search.query",
		Arguments: json.RawMessage(`{"q":"solar"}`),
	}))
	require.Nil(t, resp.Error)

	var result domain.ToolCallResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "search.query", result.Tool)
	assert.Equal(t, "1.2.0", result.Version)

	// The remote sees the bare tool name, and the annotated output
	// carries the resolved version.
	var output map[string]any
	require.NoError(t, json.Unmarshal(result.Output, &output))
	assert.Equal(t, "query", output["served"])
	assert.Equal(t, "1.2.0", output[domain.VersionAnnotationKey])
}

func TestApp_ValidateConfig(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "service-map.json")
	writeSignedManifest(t, manifestPath, connectorDoc("search", "1.2.0", true))
	configPath := writeAppConfig(t, dir, manifestPath)

	a := New(zap.NewNop())
	require.NoError(t, a.ValidateConfig(context.Background(), ValidateConfig{ConfigPath: configPath}))
}

func TestApp_ValidateConfigRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serviceMap:\n  endpoint: https://maps.example.com/v1\n"), 0o644))

	a := New(zap.NewNop())
	err := a.ValidateConfig(context.Background(), ValidateConfig{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serviceMap.signingKey")
}
