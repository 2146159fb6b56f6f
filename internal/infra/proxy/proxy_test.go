package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

type serverTool struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func newServerTransport(t *testing.T, tools ...serverTool) mcp.Transport {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "connector", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})
	for _, entry := range tools {
		server.AddTool(entry.tool, entry.handler)
	}
	ct, st := mcp.NewInMemoryTransports()
	_, err := server.Connect(context.Background(), st, nil)
	require.NoError(t, err)
	return ct
}

func newConnectedProxy(t *testing.T, tools ...serverTool) *MCPProxy {
	t.Helper()
	p, err := New(domain.ProxyOptions{ConnectorID: "wikidata", Version: "1.0.0"}, newServerTransport(t, tools...), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })
	return p
}

func TestProxyListsRemoteTools(t *testing.T) {
	handler := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("{}"), nil
	}
	p := newConnectedProxy(t,
		serverTool{
			tool: &mcp.Tool{
				Name:        "search",
				Description: "full text search",
				InputSchema: map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
			},
			handler: handler,
		},
		serverTool{
			tool:    &mcp.Tool{Name: "lookup", Description: "entity lookup", InputSchema: map[string]any{"type": "object"}},
			handler: handler,
		},
	)

	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	byName := make(map[string]domain.RemoteTool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	require.Contains(t, byName, "search")
	require.Contains(t, byName, "lookup")
	require.Equal(t, "full text search", byName["search"].Description)
	require.JSONEq(t,
		`{"type":"object","properties":{"query":{"type":"string"}}}`,
		string(byName["search"].InputSchema))
}

func TestProxyCallToolPrefersStructuredContent(t *testing.T) {
	p := newConnectedProxy(t, serverTool{
		tool: &mcp.Tool{
			Name:         "forecast",
			InputSchema:  map[string]any{"type": "object"},
			OutputSchema: map[string]any{"type": "object"},
		},
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content:           []mcp.Content{&mcp.TextContent{Text: "ignored text mirror"}},
				StructuredContent: map[string]any{"city": "Oslo", "tempC": 21},
			}, nil
		},
	})

	out, err := p.CallTool(context.Background(), "forecast", json.RawMessage(`{"city":"Oslo"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"city":"Oslo","tempC":21}`, string(out))
}

func TestProxyCallToolReturnsJSONTextVerbatim(t *testing.T) {
	p := newConnectedProxy(t, serverTool{
		tool: &mcp.Tool{Name: "search", InputSchema: map[string]any{"type": "object"}},
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult(`{"articles":["a","b"]}`), nil
		},
	})

	out, err := p.CallTool(context.Background(), "search", nil)
	require.NoError(t, err)
	require.Equal(t, `{"articles":["a","b"]}`, string(out))
}

func TestProxyCallToolWrapsPlainTextResult(t *testing.T) {
	p := newConnectedProxy(t, serverTool{
		tool: &mcp.Tool{Name: "describe", InputSchema: map[string]any{"type": "object"}},
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult("a plain sentence"), nil
		},
	})

	out, err := p.CallTool(context.Background(), "describe", nil)
	require.NoError(t, err)

	var decoded struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded.Content, 1)
	require.Equal(t, "a plain sentence", decoded.Content[0].Text)
}

func TestProxyCallToolSurfacesErrorResult(t *testing.T) {
	p := newConnectedProxy(t, serverTool{
		tool: &mcp.Tool{Name: "flaky", InputSchema: map[string]any{"type": "object"}},
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "upstream returned 503"}},
			}, nil
		},
	})

	out, err := p.CallTool(context.Background(), "flaky", nil)
	require.Error(t, err)
	require.Nil(t, out)
	require.Contains(t, err.Error(), "flaky")
	require.Contains(t, err.Error(), "upstream returned 503")
}

func TestProxyCallToolSendsArguments(t *testing.T) {
	p := newConnectedProxy(t, serverTool{
		tool: &mcp.Tool{Name: "echo", InputSchema: map[string]any{"type": "object"}},
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult(string(req.Params.Arguments)), nil
		},
	})

	out, err := p.CallTool(context.Background(), "echo", json.RawMessage(`{"q":"rain","limit":3}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"q":"rain","limit":3}`, string(out))
}

func TestProxyRequiresConnect(t *testing.T) {
	p, err := New(domain.ProxyOptions{ConnectorID: "wikidata"}, newServerTransport(t), zap.NewNop())
	require.NoError(t, err)

	_, err = p.ListTools(context.Background())
	require.ErrorIs(t, err, domain.ErrProxyNotConnected)

	_, err = p.CallTool(context.Background(), "search", nil)
	require.ErrorIs(t, err, domain.ErrProxyNotConnected)
}

func TestProxyDisconnectIsIdempotent(t *testing.T) {
	p, err := New(domain.ProxyOptions{ConnectorID: "wikidata"}, newServerTransport(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))

	require.NoError(t, p.Disconnect(context.Background()))
	require.NoError(t, p.Disconnect(context.Background()))

	require.Error(t, p.Connect(context.Background()))
}

func TestProxyConnectTwiceReusesSession(t *testing.T) {
	p := newConnectedProxy(t, serverTool{
		tool: &mcp.Tool{Name: "search", InputSchema: map[string]any{"type": "object"}},
		handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult("{}"), nil
		},
	})

	require.NoError(t, p.Connect(context.Background()))
	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestNewRequiresEndpointForHTTP(t *testing.T) {
	_, err := New(domain.ProxyOptions{ConnectorID: "wikidata"}, nil, zap.NewNop())
	require.Error(t, err)
}

func TestAuthClientSendsAPIKeyHeader(t *testing.T) {
	var mu sync.Mutex
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	shared := &http.Client{Timeout: 5 * time.Second}
	client := authClient(domain.ProxyOptions{
		ConnectorID: "wikidata",
		Auth:        domain.ConnectorAuth{Type: domain.AuthAPIKey, HeaderName: "X-Connector-Key"},
		APIKey:      "secret-key",
		HTTPClient:  shared,
	})
	require.Equal(t, shared.Timeout, client.Timeout)
	require.NotSame(t, shared, client)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "secret-key", got.Get("X-Connector-Key"))
}

func TestAuthClientReplacesStaleAuthorization(t *testing.T) {
	var mu sync.Mutex
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := authClient(domain.ProxyOptions{
		ConnectorID: "weather",
		Auth:        domain.ConnectorAuth{Type: domain.AuthBearer},
		APIKey:      "fresh-token",
	})

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer stale")

	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Bearer fresh-token"}, got.Values("Authorization"))
}
