package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"toolgate/internal/domain"
)

// Registry stores registered tools keyed by (qualified name, version) and
// resolves version constraints to the highest matching entry. All methods
// are safe for concurrent use; a connector's wholesale swap happens inside
// one write section, so readers never observe a connector mid-replacement.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]map[string]domain.RegisteredTool
}

func New() *Registry {
	return &Registry{
		tools: make(map[string]map[string]domain.RegisteredTool),
	}
}

// Register upserts one entry keyed by (name, version). Re-registering the
// same pair replaces the stored entry.
func (r *Registry) Register(entry domain.RegisteredTool) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(entry)
	return nil
}

// ReplaceConnector atomically swaps a connector's registered tool set:
// every entry under the connector's qualified-name prefix is dropped, then
// the new entries are added, all inside one write section. It returns how
// many entries were removed.
func (r *Registry) ReplaceConnector(connectorID string, entries []domain.RegisteredTool) (int, error) {
	if strings.TrimSpace(connectorID) == "" {
		return 0, fmt.Errorf("connector id is required")
	}
	prefix := domain.ConnectorPrefix(connectorID)
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return 0, err
		}
		if !strings.HasPrefix(entry.Name, prefix) {
			return 0, fmt.Errorf("tool %q does not belong to connector %q", entry.Name, connectorID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.removeByPrefix(prefix)
	for _, entry := range entries {
		r.put(entry)
	}
	return removed, nil
}

// RemoveByConnector drops every entry under the connector's prefix and
// returns how many were removed.
func (r *Registry) RemoveByConnector(connectorID string) int {
	if strings.TrimSpace(connectorID) == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeByPrefix(domain.ConnectorPrefix(connectorID))
}

// Resolve returns the highest registered version of name satisfying the
// constraint. ok is false when the name is unknown or no version matches;
// an error is returned only for an unparseable constraint.
func (r *Registry) Resolve(name, constraintExpr string) (domain.RegisteredTool, bool, error) {
	parsed, err := parseConstraint(constraintExpr)
	if err != nil {
		return domain.RegisteredTool{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.tools[name]
	if !ok {
		return domain.RegisteredTool{}, false, nil
	}

	best := domain.RegisteredTool{}
	found := false
	for version, entry := range versions {
		if !parsed.matches(version) {
			continue
		}
		if !found || compareVersions(version, best.Version) > 0 {
			best = entry
			found = true
		}
	}
	return best, found, nil
}

// Versions returns the registered versions of name in ascending semver
// order.
func (r *Registry) Versions(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.tools[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(versions))
	for version := range versions {
		out = append(out, version)
	}
	sort.Slice(out, func(i, j int) bool { return compareVersions(out[i], out[j]) < 0 })
	return out
}

// List returns every registered entry sorted by name, then ascending
// version.
func (r *Registry) List() []domain.RegisteredTool {
	return r.ListByPrefix("")
}

// ListByPrefix returns the entries whose qualified name starts with prefix,
// sorted by name then ascending version. An empty prefix lists everything.
func (r *Registry) ListByPrefix(prefix string) []domain.RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RegisteredTool, 0)
	for name, versions := range r.tools {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		for _, entry := range versions {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return compareVersions(out[i].Version, out[j].Version) < 0
	})
	return out
}

// Connectors returns the sorted distinct connector ids that currently own
// at least one registry entry.
func (r *Registry) Connectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, versions := range r.tools {
		for _, entry := range versions {
			seen[entry.ConnectorID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats reports distinct tool names and total (name, version) entries.
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.RegistryStats{TotalTools: len(r.tools)}
	for _, versions := range r.tools {
		stats.TotalVersions += len(versions)
	}
	return stats
}

func (r *Registry) put(entry domain.RegisteredTool) {
	versions, ok := r.tools[entry.Name]
	if !ok {
		versions = make(map[string]domain.RegisteredTool)
		r.tools[entry.Name] = versions
	}
	versions[entry.Version] = entry
}

func (r *Registry) removeByPrefix(prefix string) int {
	removed := 0
	for name, versions := range r.tools {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		removed += len(versions)
		delete(r.tools, name)
	}
	return removed
}

func validateEntry(entry domain.RegisteredTool) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if !semver.IsValid(normalizeVersion(entry.Version)) {
		return fmt.Errorf("tool %q version %q is not valid semver", entry.Name, entry.Version)
	}
	if entry.Handler == nil {
		return fmt.Errorf("tool %q handler is required", entry.Name)
	}
	return nil
}
