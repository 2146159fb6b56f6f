package servicemap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
)

// Loader fetches the signed service map, verifies it, and caches it with a
// TTL. An expired cache is only ever served after a refresh attempt fails;
// it is never preferred over a reachable endpoint.
type Loader struct {
	source  domain.ServiceMapSource
	client  *http.Client
	store   *Store
	metrics domain.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	cached *domain.CachedManifest
}

// NewLoader builds a loader. client may be nil for a default client; store
// and metrics may be nil to disable persistence and instrumentation. When a
// store is supplied, its persisted manifest warms the cache after its
// signature re-verifies.
func NewLoader(source domain.ServiceMapSource, client *http.Client, store *Store, metrics domain.Metrics, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{}
	}
	loader := &Loader{
		source:  source,
		client:  client,
		store:   store,
		metrics: metrics,
		logger:  logger.Named("servicemap"),
		now:     time.Now,
	}
	if loader.store != nil {
		loader.warmFromStore()
	}
	return loader
}

// Load returns the current manifest. A fresh cache is returned as-is unless
// force is set. On fetch failure any existing cache is served stale with a
// warning; with no cache the fetch error propagates. Signature or payload
// rejection always propagates and never touches the cache.
func (l *Loader) Load(ctx context.Context, force bool) (domain.CachedManifest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.cached != nil && !force && l.cached.Fresh(now) {
		return *l.cached, nil
	}

	start := time.Now()
	raw, err := l.fetch(ctx)
	if l.metrics != nil {
		l.metrics.ObserveManifestFetch(time.Since(start), err)
	}
	if err != nil {
		if l.cached != nil {
			l.logger.Warn("manifest refresh failed, serving cached copy",
				zap.String("endpoint", l.source.Endpoint),
				zap.Duration("age", l.cached.Age(now)),
				zap.Error(err))
			if l.metrics != nil {
				l.metrics.SetManifestStale(true)
			}
			return *l.cached, nil
		}
		return domain.CachedManifest{}, domain.NewSyncError(domain.SyncStageFetch, err)
	}

	if err := Verify(raw, l.source.SigningKey); err != nil {
		return domain.CachedManifest{}, domain.NewSyncError(domain.SyncStageVerify, err)
	}
	manifest, err := DecodeManifest(raw)
	if err != nil {
		return domain.CachedManifest{}, domain.NewSyncError(domain.SyncStageDecode, err)
	}

	cached := domain.CachedManifest{
		Payload:   manifest.ServiceMap,
		Raw:       raw,
		FetchedAt: now,
		ExpiresAt: now.Add(time.Duration(manifest.TTLSeconds) * time.Second),
	}
	l.cached = &cached
	if l.metrics != nil {
		l.metrics.SetManifestStale(false)
	}
	if l.store != nil {
		if err := l.store.Put(raw, now); err != nil {
			l.logger.Warn("persist manifest failed", zap.Error(err))
		}
	}
	l.logger.Info("loaded connectors manifest",
		zap.String("manifestId", manifest.ID),
		zap.String("brand", manifest.Brand),
		zap.Int("connectors", len(manifest.Connectors)),
		zap.Int("ttlSeconds", manifest.TTLSeconds))
	return cached, nil
}

// Cached returns the current cache without fetching.
func (l *Loader) Cached() (domain.CachedManifest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached == nil {
		return domain.CachedManifest{}, false
	}
	return *l.cached, true
}

func (l *Loader) warmFromStore() {
	raw, fetchedAt, err := l.store.Get()
	if err != nil {
		if !errors.Is(err, ErrNoStoredManifest) {
			l.logger.Warn("read persisted manifest failed", zap.Error(err))
		}
		return
	}
	if err := Verify(raw, l.source.SigningKey); err != nil {
		l.logger.Warn("persisted manifest failed verification, discarding", zap.Error(err))
		return
	}
	manifest, err := DecodeManifest(raw)
	if err != nil {
		l.logger.Warn("persisted manifest failed validation, discarding", zap.Error(err))
		return
	}
	cached := domain.CachedManifest{
		Payload:   manifest.ServiceMap,
		Raw:       raw,
		FetchedAt: fetchedAt,
		ExpiresAt: fetchedAt.Add(time.Duration(manifest.TTLSeconds) * time.Second),
	}
	l.cached = &cached
	l.logger.Info("warmed manifest cache from disk",
		zap.String("manifestId", manifest.ID),
		zap.Time("fetchedAt", fetchedAt))
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	endpoint := strings.TrimSpace(l.source.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("service map endpoint is required")
	}
	if parsed, err := url.Parse(endpoint); err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		return l.fetchHTTP(ctx, endpoint)
	}
	// Local file paths are accepted for development setups.
	raw, err := os.ReadFile(endpoint)
	if err != nil {
		return nil, &domain.ManifestFetchError{Endpoint: endpoint, Err: err}
	}
	return raw, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, endpoint string) ([]byte, error) {
	timeout := l.source.Timeout
	if timeout <= 0 {
		timeout = time.Duration(domain.DefaultManifestTimeoutSeconds) * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.ManifestFetchError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if l.source.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.source.APIKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &domain.ManifestFetchError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ManifestFetchError{Endpoint: endpoint, Status: resp.StatusCode}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ManifestFetchError{Endpoint: endpoint, Err: err}
	}
	return raw, nil
}
