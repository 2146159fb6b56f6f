package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ToolHandler executes one registered tool. Arguments and results travel as
// raw JSON so the registry stays agnostic of each tool's schema.
type ToolHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// RegisteredTool is one (name, version) entry in the versioned registry.
type RegisteredTool struct {
	// Name is the qualified tool name, "<connectorId>.<toolName>".
	Name string
	// Version is the connector version the tool was registered under.
	Version string
	// ConnectorID names the connector that owns this entry.
	ConnectorID string
	// RawName is the tool's name on the remote server, before any
	// manifest rename. Handlers must call the remote with this name.
	RawName     string
	Description string
	Tags        []string
	Scopes      []string
	// InputSchema is the remote tool's JSON schema, passed through opaquely.
	InputSchema  json.RawMessage
	Handler      ToolHandler
	RegisteredAt time.Time
}

// ToolDescriptor is the read-only listing shape for registry consumers.
type ToolDescriptor struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	ConnectorID string   `json:"connectorId"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// RegistryStats summarizes registry occupancy: distinct qualified names
// and total (name, version) entries.
type RegistryStats struct {
	TotalTools    int `json:"totalTools"`
	TotalVersions int `json:"totalVersions"`
}

// RemoteTool is one tool as reported by a live connector endpoint.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// RemoteToolProxy is a live session against one connector endpoint. A proxy
// connects once, serves any number of ListTools/CallTool round trips, and
// disconnects exactly once; Disconnect after Disconnect is a no-op.
type RemoteToolProxy interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]RemoteTool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	Disconnect(ctx context.Context) error
}

// ProxyOptions carries everything a factory needs to build a proxy for one
// connector. HTTPClient is the manager's shared pool; factories must not
// close it.
type ProxyOptions struct {
	ConnectorID string
	Version     string
	Endpoint    string
	Auth        ConnectorAuth
	APIKey      string
	HTTPClient  *http.Client
}

// ProxyFactory builds an unconnected proxy from connector coordinates.
type ProxyFactory func(opts ProxyOptions) (RemoteToolProxy, error)
