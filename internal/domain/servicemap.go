package domain

import (
	"strings"
	"time"
)

// AuthType identifies how a connector authenticates outbound calls.
type AuthType string

const (
	// AuthAPIKey sends the shared connectors key in a custom header.
	AuthAPIKey AuthType = "apiKey"
	// AuthBearer sends the shared connectors key as a bearer token.
	AuthBearer AuthType = "bearer"
)

// ConnectorAuth describes the outbound credential scheme for one connector.
type ConnectorAuth struct {
	Type       AuthType `json:"type"`
	HeaderName string   `json:"headerName,omitempty"`
}

// RemoteToolSpec is a manifest-declared remote tool. The manifest is
// authoritative for labeling: the spec whose Name matches a live tool
// supplies the Tags, Scopes and Description of the registered entry, so
// operators relabel tools without touching the remote server.
type RemoteToolSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// ConnectorMetadata carries operator-facing connector labels.
type ConnectorMetadata struct {
	Brand       string           `json:"brand"`
	Category    string           `json:"category,omitempty"`
	RemoteTools []RemoteToolSpec `json:"remoteTools,omitempty"`
}

// ConnectorEntry is one connector in the service map.
type ConnectorEntry struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"`
	DisplayName string            `json:"displayName,omitempty"`
	Endpoint    string            `json:"endpoint"`
	Auth        ConnectorAuth     `json:"auth"`
	Scopes      []string          `json:"scopes,omitempty"`
	TTLSeconds  int               `json:"ttlSeconds,omitempty"`
	Enabled     bool              `json:"enabled"`
	Metadata    ConnectorMetadata `json:"metadata"`
}

// RemoteToolSpecFor returns the manifest spec matching a live tool name.
func (e ConnectorEntry) RemoteToolSpecFor(rawName string) (RemoteToolSpec, bool) {
	for _, spec := range e.Metadata.RemoteTools {
		if spec.Name == rawName {
			return spec, true
		}
	}
	return RemoteToolSpec{}, false
}

// ServiceMap is the payload of the signed manifest enumerating connectors.
type ServiceMap struct {
	ID          string           `json:"id"`
	Brand       string           `json:"brand"`
	GeneratedAt time.Time        `json:"generatedAt"`
	TTLSeconds  int              `json:"ttlSeconds"`
	Connectors  []ConnectorEntry `json:"connectors"`
}

// SignedServiceMap is the wire form of a service map: the payload plus a
// MAC computed over its canonical JSON encoding.
type SignedServiceMap struct {
	ServiceMap
	Signature string `json:"signature"`
}

// EnabledConnectors returns the enabled entries in manifest order.
func (m ServiceMap) EnabledConnectors() []ConnectorEntry {
	out := make([]ConnectorEntry, 0, len(m.Connectors))
	for _, entry := range m.Connectors {
		if entry.Enabled {
			out = append(out, entry)
		}
	}
	return out
}

// Connector returns the entry with the given id.
func (m ServiceMap) Connector(id string) (ConnectorEntry, bool) {
	for _, entry := range m.Connectors {
		if entry.ID == id {
			return entry, true
		}
	}
	return ConnectorEntry{}, false
}

// CachedManifest is a verified service map plus its freshness horizon.
// A manifest past ExpiresAt may only be served after a refresh attempt
// failed, never in preference to a fresh fetch.
type CachedManifest struct {
	Payload   ServiceMap
	Raw       []byte
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the cached manifest is still within its TTL.
func (m CachedManifest) Fresh(now time.Time) bool {
	return now.Before(m.ExpiresAt)
}

// Age returns how long ago the manifest was fetched.
func (m CachedManifest) Age(now time.Time) time.Duration {
	return now.Sub(m.FetchedAt)
}

// QualifiedToolName joins a connector id and a canonical tool name into the
// registry's primary key namespace.
func QualifiedToolName(connectorID, toolName string) string {
	return connectorID + "." + toolName
}

// ConnectorPrefix returns the qualified-name prefix owned by a connector.
func ConnectorPrefix(connectorID string) string {
	return connectorID + "."
}

// ConnectorIDFromQualified splits a qualified tool name back into its
// connector id, or "" when the name carries no namespace.
func ConnectorIDFromQualified(qualified string) string {
	if idx := strings.Index(qualified, "."); idx > 0 {
		return qualified[:idx]
	}
	return ""
}
