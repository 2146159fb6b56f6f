package servicemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/mod/semver"

	"toolgate/internal/domain"
)

// DecodeManifest parses verified manifest bytes into the closed domain
// shape, normalizes defaults, and validates every connector entry. Callers
// must have run Verify on the same bytes first.
func DecodeManifest(raw []byte) (domain.SignedServiceMap, error) {
	var manifest domain.SignedServiceMap
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return domain.SignedServiceMap{}, fmt.Errorf("decode manifest payload: %w", err)
	}
	normalizeManifest(&manifest)
	if errs := validateManifest(manifest); len(errs) > 0 {
		return domain.SignedServiceMap{}, errors.New(strings.Join(errs, "; "))
	}
	return manifest, nil
}

func normalizeManifest(manifest *domain.SignedServiceMap) {
	if manifest.TTLSeconds <= 0 {
		manifest.TTLSeconds = domain.DefaultServiceMapTTLSeconds
	}
	for i := range manifest.Connectors {
		entry := &manifest.Connectors[i]
		entry.ID = strings.TrimSpace(entry.ID)
		entry.Version = strings.TrimSpace(entry.Version)
		entry.Endpoint = strings.TrimSpace(entry.Endpoint)
		if entry.TTLSeconds <= 0 {
			entry.TTLSeconds = manifest.TTLSeconds
		}
	}
}

func validateManifest(manifest domain.SignedServiceMap) []string {
	var errs []string
	if manifest.ID == "" {
		errs = append(errs, "manifest id is required")
	}
	if manifest.GeneratedAt.IsZero() {
		errs = append(errs, "manifest generatedAt is required")
	}
	idSeen := make(map[string]struct{})
	for i, entry := range manifest.Connectors {
		errs = append(errs, validateConnectorEntry(entry, i)...)
		if entry.ID == "" {
			continue
		}
		if _, exists := idSeen[entry.ID]; exists {
			errs = append(errs, fmt.Sprintf("connectors[%d]: duplicate id %q", i, entry.ID))
			continue
		}
		idSeen[entry.ID] = struct{}{}
	}
	return errs
}

func validateConnectorEntry(entry domain.ConnectorEntry, index int) []string {
	var errs []string
	if entry.ID == "" {
		errs = append(errs, fmt.Sprintf("connectors[%d]: id is required", index))
	} else if strings.Contains(entry.ID, ".") {
		errs = append(errs, fmt.Sprintf("connectors[%d]: id %q must not contain '.'", index, entry.ID))
	}
	if entry.Version == "" {
		errs = append(errs, fmt.Sprintf("connectors[%d]: version is required", index))
	} else if !semver.IsValid(normalizeVersion(entry.Version)) {
		errs = append(errs, fmt.Sprintf("connectors[%d]: version %q is not valid semver", index, entry.Version))
	}
	if entry.Endpoint == "" {
		errs = append(errs, fmt.Sprintf("connectors[%d]: endpoint is required", index))
	} else if parsed, err := url.Parse(entry.Endpoint); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Sprintf("connectors[%d]: endpoint %q must be an http(s) URL", index, entry.Endpoint))
	}
	switch entry.Auth.Type {
	case domain.AuthAPIKey, domain.AuthBearer:
	default:
		errs = append(errs, fmt.Sprintf("connectors[%d]: auth.type %q must be apiKey or bearer", index, entry.Auth.Type))
	}
	for j, spec := range entry.Metadata.RemoteTools {
		if strings.TrimSpace(spec.Name) == "" {
			errs = append(errs, fmt.Sprintf("connectors[%d].metadata.remoteTools[%d]: name is required", index, j))
		}
	}
	return errs
}

func normalizeVersion(version string) string {
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "v") {
		return "v" + trimmed
	}
	return trimmed
}
