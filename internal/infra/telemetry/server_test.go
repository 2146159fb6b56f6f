package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"toolgate/internal/domain"
)

func TestStartHTTPServer_ServesMetrics(t *testing.T) {
	port := freePort(t)

	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	metrics.SetProxyUp("wikidata", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, HTTPServerOptions{
			Addr:          fmt.Sprintf("127.0.0.1:%d", port),
			EnableMetrics: true,
			Registry:      registry,
		}, zap.NewNop())
	}()

	waitForHTTPStatus(t, fmt.Sprintf("http://127.0.0.1:%d/metrics", port), http.StatusOK)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "connector_proxy_up")

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestStartHTTPServer_HealthzTracksSyncOutcomes(t *testing.T) {
	port := freePort(t)

	tracker := NewHealthTracker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, HTTPServerOptions{
			Addr:          fmt.Sprintf("127.0.0.1:%d", port),
			EnableHealthz: true,
			Health:        tracker,
		}, zap.NewNop())
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	waitForHTTPStatus(t, url, http.StatusServiceUnavailable)

	tracker.RecordSync(domain.SyncResult{
		ManifestID: "svc-map-1",
		StartedAt:  time.Now(),
		Connectors: []domain.ConnectorOutcome{
			{ConnectorID: "wikidata", State: domain.ConnectorStateReady, Tools: 2},
		},
	})
	waitForHTTPStatus(t, url, http.StatusOK)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var report HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, HealthStatusOK, report.Status)
	assert.Equal(t, "svc-map-1", report.ManifestID)
	assert.Equal(t, 1, report.ConnectorsReady)

	// A failed refresh while a manifest is serving keeps the service ready.
	tracker.RecordSyncError(assert.AnError, time.Now())
	waitForHTTPStatus(t, url, http.StatusOK)

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestStartHTTPServer_DebugLogsRedactCredentials(t *testing.T) {
	port := freePort(t)

	buffer := NewLogBuffer(16, zapcore.InfoLevel)
	logger := zap.New(buffer.Core())
	logger.Info("connector sync complete",
		zap.String("connectorId", "wikidata"),
		zap.String("apiKey", "secret-key"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, HTTPServerOptions{
			Addr:            fmt.Sprintf("127.0.0.1:%d", port),
			EnableDebugLogs: true,
			Logs:            buffer,
		}, zap.NewNop())
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/debug/logs", port)
	waitForHTTPStatus(t, url, http.StatusOK)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var records []LogRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "connector sync complete", records[0].Message)
	assert.Equal(t, "wikidata", records[0].Fields["connectorId"])
	assert.Equal(t, "***", records[0].Fields["apiKey"])

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestStartHTTPServer_AddrInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	defer listener.Close()
	addr := listener.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	serveErr := StartHTTPServer(ctx, HTTPServerOptions{
		Addr:          addr,
		EnableMetrics: true,
	}, zap.NewNop())
	require.Error(t, serveErr)
	assert.Contains(t, strings.ToLower(serveErr.Error()), "in use")
}

func TestStartHTTPServer_NothingEnabled(t *testing.T) {
	err := StartHTTPServer(context.Background(), HTTPServerOptions{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func waitForHTTPStatus(t *testing.T, url string, status int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == status
	}, 2*time.Second, 25*time.Millisecond)
}
