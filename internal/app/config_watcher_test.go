package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/infra/config"
	"toolgate/internal/infra/telemetry"
)

type watcherFixture struct {
	app          *App
	rt           *runtime
	watcher      *configWatcher
	stubs        *stubConnectors
	configPath   string
	manifestPath string
}

func newWatcherFixture(t *testing.T) *watcherFixture {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "service-map.json")
	writeSignedManifest(t, manifestPath, connectorDoc("search", "1.0.0", true))
	configPath := writeAppConfig(t, dir, manifestPath)

	stubs := newStubConnectors()
	stubs.serve("search", "query")

	a := New(zap.NewNop())
	a.createProxy = stubs.factory

	ctx := context.Background()
	loader := config.NewLoader(zap.NewNop())
	conf, err := loader.Load(ctx, configPath)
	require.NoError(t, err)

	rt, err := a.buildRuntime(conf)
	require.NoError(t, err)
	t.Cleanup(func() { rt.close(context.Background()) })

	_, err = rt.manager.Sync(ctx, false)
	require.NoError(t, err)

	watcher := newConfigWatcher(configWatcherOptions{
		Path:       configPath,
		Loader:     loader,
		Manager:    rt.manager,
		Controller: telemetry.NewObservabilityController(telemetry.ObservabilityControllerOptions{}),
		Initial:    conf,
		Logger:     zap.NewNop(),
	})

	return &watcherFixture{
		app:          a,
		rt:           rt,
		watcher:      watcher,
		stubs:        stubs,
		configPath:   configPath,
		manifestPath: manifestPath,
	}
}

func TestConfigWatcher_ReloadForcesResync(t *testing.T) {
	f := newWatcherFixture(t)
	require.Len(t, f.rt.registry.ListByPrefix("search."), 1)

	// A new connector version appears in the manifest between reloads.
	writeSignedManifest(t, f.manifestPath, connectorDoc("search", "1.1.0", true))
	f.stubs.serve("search", "query", "browse")

	f.watcher.reload(context.Background())

	tools := f.rt.registry.ListByPrefix("search.")
	require.Len(t, tools, 2)
	for _, tool := range tools {
		assert.Equal(t, "1.1.0", tool.Version)
	}

	// The version bump changes the proxy fingerprint: a second proxy is
	// built and the first one is retired.
	proxies := f.stubs.proxies()
	require.Len(t, proxies, 2)
	assert.Equal(t, int64(1), proxies[0].disconnects.Load())
	assert.Equal(t, int64(0), proxies[1].disconnects.Load())
}

func TestConfigWatcher_ReloadPicksUpFileEdits(t *testing.T) {
	f := newWatcherFixture(t)

	content := `serviceMap:
  endpoint: ` + f.manifestPath + `
  signingKey: ` + appSigningKey + `
connector:
  callTimeoutSeconds: 60
flags:
  asyncRefresh: false
`
	require.NoError(t, os.WriteFile(f.configPath, []byte(content), 0o644))

	f.watcher.reload(context.Background())

	// The new defaults are recorded even though they need a restart to
	// reach the running manager.
	assert.Equal(t, 60*time.Second, f.watcher.current.Connector.CallTimeout)
}

func TestConfigWatcher_ReloadKeepsServingOnBadConfig(t *testing.T) {
	f := newWatcherFixture(t)
	endpoint := f.watcher.current.ServiceMap.Endpoint

	require.NoError(t, os.WriteFile(f.configPath, []byte("serviceMap: ["), 0o644))

	f.watcher.reload(context.Background())

	assert.Equal(t, endpoint, f.watcher.current.ServiceMap.Endpoint)
	assert.Len(t, f.rt.registry.ListByPrefix("search."), 1)
	require.Len(t, f.stubs.proxies(), 1)
}

func TestConfigWatcher_EventMatches(t *testing.T) {
	w := newConfigWatcher(configWatcherOptions{Path: "/etc/toolgate/toolgate.yaml"})

	assert.True(t, w.eventMatches("/etc/toolgate/toolgate.yaml"))
	assert.True(t, w.eventMatches("toolgate.yaml"))
	assert.False(t, w.eventMatches("/etc/toolgate/other.yaml"))
	assert.False(t, w.eventMatches("/etc/toolgate/toolgate.yaml.swp"))
	assert.False(t, w.eventMatches(""))
}

func TestTimerChan(t *testing.T) {
	assert.Nil(t, timerChan(nil))

	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	assert.NotNil(t, timerChan(timer))
}
