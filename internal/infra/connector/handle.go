package connector

import (
	"context"
	"sync"

	"toolgate/internal/domain"
)

// proxyHandle wraps a live proxy with its reuse fingerprint. Disconnect is
// guarded by a sync.Once so every proxy the manager ever created is torn
// down exactly once, whichever of sync pruning, replacement or shutdown
// reaches it first.
type proxyHandle struct {
	connectorID string
	fingerprint string
	proxy       domain.RemoteToolProxy

	once sync.Once
	err  error
}

func newProxyHandle(connectorID, fingerprint string, proxy domain.RemoteToolProxy) *proxyHandle {
	return &proxyHandle{
		connectorID: connectorID,
		fingerprint: fingerprint,
		proxy:       proxy,
	}
}

func (h *proxyHandle) disconnect(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.proxy.Disconnect(ctx)
	})
	return h.err
}

// handleFingerprint keys proxy reuse. A handle survives a sync cycle only
// while both the endpoint and the connector version are unchanged.
func handleFingerprint(entry domain.ConnectorEntry) string {
	return entry.Endpoint + "\x00" + entry.Version
}
