package connector

import (
	"strings"

	"toolgate/internal/domain"
)

// NormalizeTool merges one live remote tool with its manifest declaration
// into a registry entry. The manifest is authoritative where it speaks:
// a matching remoteTools spec supplies the tags, scopes and (when
// non-empty) the description; the live listing supplies the schema and
// the raw name handlers must use on the wire. Tools absent from the
// manifest register under their live name with no labels.
func NormalizeTool(entry domain.ConnectorEntry, tool domain.RemoteTool) domain.RegisteredTool {
	name := strings.TrimSpace(tool.Name)
	description := tool.Description
	var tags, scopes []string

	if spec, ok := entry.RemoteToolSpecFor(name); ok {
		if spec.Description != "" {
			description = spec.Description
		}
		tags = append(tags, spec.Tags...)
		scopes = append(scopes, spec.Scopes...)
	}
	scopes = append(scopes, entry.Scopes...)

	return domain.RegisteredTool{
		Name:        domain.QualifiedToolName(entry.ID, name),
		Version:     entry.Version,
		ConnectorID: entry.ID,
		RawName:     tool.Name,
		Description: description,
		Tags:        tags,
		Scopes:      dedupe(scopes),
		InputSchema: tool.InputSchema,
	}
}

func dedupe(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
