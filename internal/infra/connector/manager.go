package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/telemetry"
)

// ManifestLoader supplies verified service maps. force bypasses a fresh
// cache; implementations may still fall back to a stale cached copy when
// the refresh itself fails.
type ManifestLoader interface {
	Load(ctx context.Context, force bool) (domain.CachedManifest, error)
}

// ToolRegistry is the slice of the versioned registry the manager writes.
type ToolRegistry interface {
	ReplaceConnector(connectorID string, entries []domain.RegisteredTool) (int, error)
	RemoveByConnector(connectorID string) int
	Connectors() []string
}

// Options wires a Manager. Loader, Registry and CreateProxy are required;
// Metrics, Logger and HTTPClient default to a noop recorder, a nop logger
// and a dedicated client when nil. Health is optional and receives every
// sync outcome for the readiness endpoint.
type Options struct {
	Loader      ManifestLoader
	Registry    ToolRegistry
	CreateProxy domain.ProxyFactory
	Metrics     domain.Metrics
	Health      *telemetry.HealthTracker
	Logger      *zap.Logger
	Flags       domain.FeatureFlags
	Defaults    domain.ConnectorDefaults
	HTTPClient  *http.Client
}

// Manager keeps the tool registry in step with the service map. A sync run
// loads the verified manifest, hydrates every enabled connector through a
// bounded worker pool and prunes connectors that left the map. Individual
// connector failures never reject a run; only manifest-level failures do.
type Manager struct {
	loader      ManifestLoader
	registry    ToolRegistry
	createProxy domain.ProxyFactory
	metrics     domain.Metrics
	health      *telemetry.HealthTracker
	logger      *zap.Logger
	flags       domain.FeatureFlags
	defaults    domain.ConnectorDefaults
	httpClient  *http.Client

	now      func() time.Time
	newRunID func() string

	mu           sync.Mutex
	closed       bool
	handles      map[string]*proxyHandle
	lastManifest *domain.ServiceMap
	inflight     *syncRun

	ticker      *time.Ticker
	refreshStop chan struct{}
	refreshDone chan struct{}

	closePool sync.Once
}

// syncRun lets concurrent callers join an in-flight sync instead of
// starting a second one. done is closed after result and err are set.
type syncRun struct {
	done   chan struct{}
	result domain.SyncResult
	err    error
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Loader == nil {
		return nil, errors.New("connector: manifest loader is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("connector: tool registry is required")
	}
	if opts.CreateProxy == nil {
		return nil, errors.New("connector: proxy factory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	flags := opts.Flags
	if flags.RefreshInterval <= 0 {
		flags.RefreshInterval = domain.DefaultRefreshIntervalMs * time.Millisecond
	}
	defaults := opts.Defaults
	if defaults.ConnectTimeout <= 0 {
		defaults.ConnectTimeout = domain.DefaultConnectTimeoutSeconds * time.Second
	}
	if defaults.CallTimeout <= 0 {
		defaults.CallTimeout = domain.DefaultCallTimeoutSeconds * time.Second
	}

	return &Manager{
		loader:      opts.Loader,
		registry:    opts.Registry,
		createProxy: opts.CreateProxy,
		metrics:     metrics,
		health:      opts.Health,
		logger:      logger.Named("connector"),
		flags:       flags,
		defaults:    defaults,
		httpClient:  client,
		now:         time.Now,
		newRunID:    uuid.NewString,
		handles:     make(map[string]*proxyHandle),
	}, nil
}

// Start runs the startup sync and, when async refresh is enabled, begins
// the background refresh loop. Refresh failures are logged, never
// propagated; the next tick retries.
func (m *Manager) Start(ctx context.Context) {
	if _, err := m.syncWithTrigger(ctx, false, domain.SyncTriggerStartup); err != nil {
		m.logger.Warn("startup sync failed", zap.Error(err))
	}
	if !m.flags.AsyncRefresh {
		return
	}

	m.mu.Lock()
	if m.closed || m.ticker != nil {
		m.mu.Unlock()
		return
	}
	m.ticker = time.NewTicker(m.flags.RefreshInterval)
	m.refreshStop = make(chan struct{})
	m.refreshDone = make(chan struct{})
	ticker := m.ticker
	stop := m.refreshStop
	done := m.refreshDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ticker.C:
				if _, err := m.syncWithTrigger(ctx, false, domain.SyncTriggerInterval); err != nil {
					m.logger.Warn("scheduled sync failed", zap.Error(err))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background refresh loop. Live proxies stay connected;
// Disconnect tears those down.
func (m *Manager) Stop() {
	m.mu.Lock()
	ticker := m.ticker
	stop := m.refreshStop
	done := m.refreshDone
	m.ticker = nil
	m.refreshStop = nil
	m.refreshDone = nil
	m.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if stop != nil {
		close(stop)
	}
	if done != nil {
		<-done
	}
}

// Sync runs one manual sync. force refetches the manifest even while the
// cached copy is fresh. Concurrent calls join the run already in flight
// and share its result.
func (m *Manager) Sync(ctx context.Context, force bool) (domain.SyncResult, error) {
	return m.syncWithTrigger(ctx, force, domain.SyncTriggerManual)
}

// Reload forces a manifest refetch after a configuration change.
func (m *Manager) Reload(ctx context.Context) (domain.SyncResult, error) {
	return m.syncWithTrigger(ctx, true, domain.SyncTriggerConfig)
}

func (m *Manager) syncWithTrigger(ctx context.Context, force bool, trigger domain.SyncTrigger) (domain.SyncResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.observeSyncError(trigger, domain.ErrManagerClosed, 0)
		return domain.SyncResult{}, domain.ErrManagerClosed
	}
	if run := m.inflight; run != nil {
		m.mu.Unlock()
		select {
		case <-run.done:
			return run.result, run.err
		case <-ctx.Done():
			return domain.SyncResult{}, ctx.Err()
		}
	}
	run := &syncRun{done: make(chan struct{})}
	m.inflight = run
	m.mu.Unlock()

	result, err := m.runSync(ctx, force, trigger)

	m.mu.Lock()
	m.inflight = nil
	m.mu.Unlock()
	run.result, run.err = result, err
	close(run.done)
	return result, err
}

func (m *Manager) runSync(ctx context.Context, force bool, trigger domain.SyncTrigger) (domain.SyncResult, error) {
	started := time.Now()
	result := domain.SyncResult{
		RunID:     m.newRunID(),
		Trigger:   trigger,
		StartedAt: m.now(),
	}
	logger := m.logger.With(telemetry.RunIDField(result.RunID), telemetry.TriggerField(string(trigger)))

	manifest, err := m.loader.Load(ctx, force)
	if err != nil {
		result.Duration = time.Since(started)
		m.observeSyncError(trigger, err, result.Duration)
		m.health.RecordSyncError(err, m.now())
		logger.Error("service map load failed", telemetry.EventField(telemetry.EventSyncFailure), zap.Error(err))
		return result, err
	}

	result.ManifestID = manifest.Payload.ID
	result.GeneratedAt = manifest.Payload.GeneratedAt
	result.Stale = !manifest.Fresh(m.now())
	m.metrics.SetManifestAge(manifest.Age(m.now()))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.observeSyncError(trigger, domain.ErrManagerClosed, time.Since(started))
		return result, domain.ErrManagerClosed
	}
	payload := manifest.Payload
	m.lastManifest = &payload
	m.mu.Unlock()

	result.Connectors = m.hydrateAll(ctx, manifest.Payload.EnabledConnectors())
	result.Connectors = append(result.Connectors, m.pruneMissing(logger, manifest.Payload)...)
	result.Duration = time.Since(started)

	m.observeSyncResult(result)
	m.health.RecordSync(result)
	logger.Info("connector sync complete",
		telemetry.EventField(telemetry.EventSyncSuccess),
		telemetry.ManifestField(result.ManifestID),
		zap.Int("ready", result.Ready()),
		zap.Int("failed", len(result.Failed())),
		zap.Bool("stale", result.Stale),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// hydrateAll fans the enabled connectors out over a fixed-size worker
// pool. Excess connectors queue in manifest order; outcomes come back
// sorted by connector id.
func (m *Manager) hydrateAll(ctx context.Context, entries []domain.ConnectorEntry) []domain.ConnectorOutcome {
	if len(entries) == 0 {
		return nil
	}

	workerCount := domain.DefaultHydrationConcurrency
	if workerCount > len(entries) {
		workerCount = len(entries)
	}

	jobs := make(chan domain.ConnectorEntry)
	results := make(chan domain.ConnectorOutcome, len(entries))
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case entry, ok := <-jobs:
					if !ok {
						return
					}
					results <- m.hydrateConnector(ctx, entry)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, entry := range entries {
			select {
			case jobs <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]domain.ConnectorOutcome, 0, len(entries))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].ConnectorID < outcomes[j].ConnectorID })
	return outcomes
}

func (m *Manager) hydrateConnector(ctx context.Context, entry domain.ConnectorEntry) domain.ConnectorOutcome {
	started := time.Now()
	outcome := domain.ConnectorOutcome{ConnectorID: entry.ID, Version: entry.Version}
	err := m.hydrateOnce(ctx, entry, &outcome)
	outcome.Duration = time.Since(started)

	if err != nil {
		outcome.State = domain.ConnectorStateFailed
		outcome.Err = &domain.HydrationError{ConnectorID: entry.ID, Endpoint: entry.Endpoint, Err: err}
		m.metrics.SetProxyUp(entry.ID, false)
		m.logger.Warn("connector hydration failed",
			telemetry.EventField(telemetry.EventHydrationFailure),
			telemetry.ConnectorField(entry.ID),
			telemetry.VersionField(entry.Version),
			zap.String("endpoint", entry.Endpoint),
			zap.Error(err))
		return outcome
	}

	outcome.State = domain.ConnectorStateReady
	m.metrics.SetProxyUp(entry.ID, true)
	m.metrics.SetRegisteredTools(entry.ID, outcome.Tools)
	m.logger.Debug("connector hydrated",
		telemetry.ConnectorField(entry.ID),
		telemetry.VersionField(entry.Version),
		zap.Int("tools", outcome.Tools),
		zap.Bool("reusedProxy", outcome.Reused))
	return outcome
}

// hydrateOnce connects (or reuses) the connector's proxy, lists its tools
// and swaps them into the registry. Any failure returns before the swap,
// so the connector's previously registered tools keep serving.
func (m *Manager) hydrateOnce(ctx context.Context, entry domain.ConnectorEntry, outcome *domain.ConnectorOutcome) error {
	handle, reused, err := m.ensureHandle(ctx, entry)
	if err != nil {
		return err
	}
	outcome.Reused = reused

	count, err := m.swapTools(ctx, entry, handle)
	if err != nil {
		// The session is not trusted after a failed listing. Retiring it
		// makes the next cycle reconnect instead of reusing a dead proxy.
		m.retireHandle(entry.ID, handle)
		return err
	}
	outcome.Tools = count

	if !reused {
		if replaced := m.installHandle(entry.ID, handle); replaced != nil {
			m.disconnectHandle(replaced)
		}
	}
	return nil
}

// ensureHandle returns the connector's live handle when its endpoint and
// version are unchanged. Otherwise it connects a fresh proxy and returns
// it uninstalled; the caller installs it only after the tool swap
// succeeds.
func (m *Manager) ensureHandle(ctx context.Context, entry domain.ConnectorEntry) (*proxyHandle, bool, error) {
	fingerprint := handleFingerprint(entry)

	m.mu.Lock()
	existing := m.handles[entry.ID]
	m.mu.Unlock()
	if existing != nil && existing.fingerprint == fingerprint {
		return existing, true, nil
	}

	proxy, err := m.createProxy(domain.ProxyOptions{
		ConnectorID: entry.ID,
		Version:     entry.Version,
		Endpoint:    entry.Endpoint,
		Auth:        entry.Auth,
		APIKey:      m.defaults.APIKey,
		HTTPClient:  m.httpClient,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create proxy: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.defaults.ConnectTimeout)
	defer cancel()
	if err := proxy.Connect(connectCtx); err != nil {
		return nil, false, fmt.Errorf("connect %s: %w", entry.Endpoint, err)
	}
	return newProxyHandle(entry.ID, fingerprint, proxy), false, nil
}

// swapTools lists the connector's live tools, normalizes them against the
// manifest entry and replaces the connector's registry slice wholesale.
func (m *Manager) swapTools(ctx context.Context, entry domain.ConnectorEntry, handle *proxyHandle) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, m.defaults.ConnectTimeout)
	defer cancel()
	remote, err := handle.proxy.ListTools(listCtx)
	if err != nil {
		return 0, fmt.Errorf("list tools: %w", err)
	}

	registeredAt := m.now()
	entries := make([]domain.RegisteredTool, 0, len(remote))
	for _, tool := range remote {
		if strings.TrimSpace(tool.Name) == "" {
			m.logger.Warn("skipping unnamed remote tool", telemetry.ConnectorField(entry.ID))
			continue
		}
		registered := NormalizeTool(entry, tool)
		registered.RegisteredAt = registeredAt
		registered.Handler = m.toolHandler(handle, registered.RawName)
		entries = append(entries, registered)
	}

	if _, err := m.registry.ReplaceConnector(entry.ID, entries); err != nil {
		return 0, fmt.Errorf("replace tools: %w", err)
	}
	return len(entries), nil
}

// toolHandler binds a registered tool to its proxy session. The remote is
// always called with the raw tool name, whatever the manifest renamed it to.
func (m *Manager) toolHandler(handle *proxyHandle, rawName string) domain.ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.defaults.CallTimeout)
		defer cancel()
		return handle.proxy.CallTool(callCtx, rawName, args)
	}
}

// installHandle swaps the connector's live handle and returns the one it
// displaced, which the caller must disconnect. During shutdown the new
// handle is refused and handed straight back for teardown.
func (m *Manager) installHandle(connectorID string, handle *proxyHandle) *proxyHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return handle
	}
	replaced := m.handles[connectorID]
	m.handles[connectorID] = handle
	if replaced == handle {
		return nil
	}
	return replaced
}

// retireHandle drops the handle from the live set (when it is still the
// installed one) and disconnects it.
func (m *Manager) retireHandle(connectorID string, handle *proxyHandle) {
	m.mu.Lock()
	if m.handles[connectorID] == handle {
		delete(m.handles, connectorID)
	}
	m.mu.Unlock()
	m.disconnectHandle(handle)
}

func (m *Manager) disconnectHandle(handle *proxyHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), m.defaults.ConnectTimeout)
	defer cancel()
	if err := handle.disconnect(ctx); err != nil {
		m.logger.Warn("proxy disconnect failed",
			telemetry.ConnectorField(handle.connectorID),
			zap.Error(err))
	}
}

// pruneMissing unregisters connectors that disappeared from the manifest
// or were disabled, disconnects their proxies and drops their metric
// series.
func (m *Manager) pruneMissing(logger *zap.Logger, manifest domain.ServiceMap) []domain.ConnectorOutcome {
	wanted := make(map[string]struct{})
	for _, entry := range manifest.EnabledConnectors() {
		wanted[entry.ID] = struct{}{}
	}

	known := make(map[string]struct{})
	m.mu.Lock()
	for id := range m.handles {
		known[id] = struct{}{}
	}
	m.mu.Unlock()
	for _, id := range m.registry.Connectors() {
		known[id] = struct{}{}
	}

	stale := make([]string, 0)
	for id := range known {
		if _, ok := wanted[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)

	outcomes := make([]domain.ConnectorOutcome, 0, len(stale))
	for _, id := range stale {
		m.mu.Lock()
		handle := m.handles[id]
		delete(m.handles, id)
		m.mu.Unlock()

		removed := m.registry.RemoveByConnector(id)
		if handle != nil {
			m.disconnectHandle(handle)
		}
		m.metrics.DropConnector(id)
		logger.Info("connector removed from service map",
			telemetry.EventField(telemetry.EventConnectorRemoved),
			telemetry.ConnectorField(id),
			zap.Int("tools", removed))
		outcomes = append(outcomes, domain.ConnectorOutcome{
			ConnectorID: id,
			State:       domain.ConnectorStateRemoved,
			Tools:       removed,
		})
	}
	return outcomes
}

// ListConnectors returns the connector entries of the last successfully
// loaded manifest, whatever each connector's hydration outcome was.
func (m *Manager) ListConnectors() []domain.ConnectorEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastManifest == nil {
		return nil
	}
	return append([]domain.ConnectorEntry(nil), m.lastManifest.Connectors...)
}

// Disconnect stops the refresh loop, joins any in-flight sync, disconnects
// every live proxy and closes the shared HTTP pool. The manager refuses
// further syncs afterwards.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	run := m.inflight
	m.mu.Unlock()

	m.Stop()
	if run != nil {
		select {
		case <-run.done:
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	handles := make([]*proxyHandle, 0, len(m.handles))
	for _, handle := range m.handles {
		handles = append(handles, handle)
	}
	m.handles = make(map[string]*proxyHandle)
	m.mu.Unlock()

	var errs []error
	for _, handle := range handles {
		if err := handle.disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", handle.connectorID, err))
		}
		m.metrics.SetProxyUp(handle.connectorID, false)
	}
	m.closePool.Do(func() {
		m.httpClient.CloseIdleConnections()
	})

	m.logger.Info("connector manager disconnected", zap.Int("proxies", len(handles)))
	return errors.Join(errs...)
}

func (m *Manager) observeSyncResult(result domain.SyncResult) {
	status := result.Status()
	reason := domain.SyncReasonSuccess
	switch {
	case len(result.Failed()) > 0:
		reason = domain.SyncReasonConnectorFailed
	case result.Stale:
		reason = domain.SyncReasonStaleServed
	}
	m.metrics.ObserveSync(domain.SyncMetric{
		Trigger:    result.Trigger,
		Status:     status,
		Reason:     reason,
		Connectors: len(result.Connectors),
		Failed:     len(result.Failed()),
		Duration:   result.Duration,
	})
}

func (m *Manager) observeSyncError(trigger domain.SyncTrigger, err error, duration time.Duration) {
	m.metrics.ObserveSync(domain.SyncMetric{
		Trigger:  trigger,
		Status:   domain.SyncStatusError,
		Reason:   syncReasonFromError(err),
		Duration: duration,
	})
}

func syncReasonFromError(err error) domain.SyncReason {
	if errors.Is(err, domain.ErrManagerClosed) {
		return domain.SyncReasonClosed
	}
	var sigErr *domain.SignatureError
	if errors.As(err, &sigErr) {
		return domain.SyncReasonSignature
	}
	if stage, ok := domain.SyncStageFrom(err); ok {
		switch stage {
		case domain.SyncStageFetch:
			return domain.SyncReasonFetchFailed
		case domain.SyncStageVerify:
			return domain.SyncReasonSignature
		case domain.SyncStageDecode, domain.SyncStageValidate:
			return domain.SyncReasonDecodeFailed
		case domain.SyncStageHydrate:
			return domain.SyncReasonConnectorFailed
		}
	}
	return domain.SyncReasonUnknown
}
