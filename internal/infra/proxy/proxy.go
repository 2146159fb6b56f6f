// Package proxy dials remote connector endpoints over MCP streamable HTTP
// and adapts their sessions to domain.RemoteToolProxy.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"toolgate/internal/buildinfo"
	"toolgate/internal/domain"
)

// MCPProxy is one live MCP session against a connector endpoint.
type MCPProxy struct {
	opts      domain.ProxyOptions
	transport mcp.Transport
	logger    *zap.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
	closed  bool
}

// NewFactory returns the production factory dialing streamable HTTP.
func NewFactory(logger *zap.Logger) domain.ProxyFactory {
	return func(opts domain.ProxyOptions) (domain.RemoteToolProxy, error) {
		return New(opts, nil, logger)
	}
}

// New builds a proxy for one connector. A nil transport dials streamable
// HTTP against opts.Endpoint with the connector's credential headers on
// every request; tests inject in-memory transports instead.
func New(opts domain.ProxyOptions, transport mcp.Transport, logger *zap.Logger) (*MCPProxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		endpoint := strings.TrimSpace(opts.Endpoint)
		if endpoint == "" {
			return nil, errors.New("connector endpoint is required")
		}
		transport = &mcp.StreamableClientTransport{
			Endpoint:   endpoint,
			HTTPClient: authClient(opts),
			MaxRetries: domain.DefaultStreamableHTTPMaxRetries,
		}
	}
	return &MCPProxy{
		opts:      opts,
		transport: transport,
		logger:    logger.Named("proxy").With(zap.String("connectorId", opts.ConnectorID)),
	}, nil
}

// authClient layers the connector's credential headers over the shared
// pool's round tripper. The pool stays shared across proxies; only the
// header layer is per connector.
func authClient(opts domain.ProxyOptions) *http.Client {
	base := http.DefaultTransport
	client := &http.Client{}
	if opts.HTTPClient != nil {
		if opts.HTTPClient.Transport != nil {
			base = opts.HTTPClient.Transport
		}
		client.Timeout = opts.HTTPClient.Timeout
	}

	headers := http.Header{}
	for key, value := range domain.AuthHeaders(opts.Auth, opts.APIKey) {
		headers.Set(key, value)
	}
	client.Transport = &headerRoundTripper{base: base, headers: headers}
	return client
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, values := range h.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(req)
}

func (p *MCPProxy) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("proxy is closed")
	}
	if p.session != nil {
		return nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "toolgate", Version: buildinfo.Version}, nil)
	session, err := client.Connect(ctx, p.transport, nil)
	if err != nil {
		return fmt.Errorf("connect connector %s: %w", p.opts.ConnectorID, err)
	}
	p.session = session
	p.logger.Debug("proxy connected", zap.String("endpoint", p.opts.Endpoint))
	return nil
}

// ListTools walks the session's full tool listing, following cursors.
func (p *MCPProxy) ListTools(ctx context.Context) ([]domain.RemoteTool, error) {
	session, err := p.currentSession()
	if err != nil {
		return nil, err
	}

	var out []domain.RemoteTool
	cursor := ""
	for {
		result, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, tool := range result.Tools {
			if tool == nil || tool.Name == "" {
				continue
			}
			remote := domain.RemoteTool{Name: tool.Name, Description: tool.Description}
			if tool.InputSchema != nil {
				raw, err := json.Marshal(tool.InputSchema)
				if err != nil {
					p.logger.Warn("skip tool with unencodable schema",
						zap.String("tool", tool.Name), zap.Error(err))
					continue
				}
				remote.InputSchema = raw
			}
			out = append(out, remote)
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return out, nil
}

func (p *MCPProxy) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	session, err := p.currentSession()
	if err != nil {
		return nil, err
	}

	params := &mcp.CallToolParams{Name: name}
	if len(args) > 0 {
		params.Arguments = args
	}
	result, err := session.CallTool(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("remote tool %s failed: %s", name, contentText(result.Content))
	}
	return encodeResult(result)
}

// Disconnect closes the session. Further Disconnects are no-ops; the
// proxy cannot be reconnected afterwards.
func (p *MCPProxy) Disconnect(context.Context) error {
	p.mu.Lock()
	session := p.session
	alreadyClosed := p.closed
	p.session = nil
	p.closed = true
	p.mu.Unlock()

	if alreadyClosed || session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	p.logger.Debug("proxy disconnected")
	return nil
}

func (p *MCPProxy) currentSession() (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, domain.ErrProxyNotConnected
	}
	return p.session, nil
}

// encodeResult flattens a call result to raw JSON: structured content when
// the server provides it, a lone JSON text block verbatim, otherwise the
// whole result object.
func encodeResult(result *mcp.CallToolResult) (json.RawMessage, error) {
	if result.StructuredContent != nil {
		return json.Marshal(result.StructuredContent)
	}
	if len(result.Content) == 1 {
		if text, ok := result.Content[0].(*mcp.TextContent); ok && json.Valid([]byte(text.Text)) {
			return json.RawMessage(text.Text), nil
		}
	}
	return json.Marshal(result)
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if text, ok := item.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "unspecified error"
	}
	return strings.Join(parts, "; ")
}
