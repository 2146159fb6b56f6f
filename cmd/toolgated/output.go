package main

import (
	"encoding/json"
	"fmt"

	"toolgate/internal/app"
	"toolgate/internal/domain"
)

func writeJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printSyncResult(result domain.SyncResult, jsonOutput bool) error {
	if jsonOutput {
		connectors := make([]map[string]any, 0, len(result.Connectors))
		for _, outcome := range result.Connectors {
			entry := map[string]any{
				"connectorId": outcome.ConnectorID,
				"version":     outcome.Version,
				"state":       string(outcome.State),
				"tools":       outcome.Tools,
				"reused":      outcome.Reused,
				"durationMs":  outcome.Duration.Milliseconds(),
			}
			if outcome.Err != nil {
				entry["error"] = outcome.Err.Error()
			}
			connectors = append(connectors, entry)
		}
		return writeJSON(map[string]any{
			"runId":      result.RunID,
			"trigger":    string(result.Trigger),
			"manifestId": result.ManifestID,
			"stale":      result.Stale,
			"ready":      result.Ready(),
			"failed":     len(result.Failed()),
			"durationMs": result.Duration.Milliseconds(),
			"connectors": connectors,
		})
	}

	fmt.Printf("manifest=%s ready=%d failed=%d stale=%t duration=%s\n",
		result.ManifestID, result.Ready(), len(result.Failed()), result.Stale, result.Duration)
	for _, outcome := range result.Connectors {
		line := fmt.Sprintf("%s\t%s\t%s\ttools=%d", outcome.ConnectorID, outcome.Version, outcome.State, outcome.Tools)
		if outcome.Reused {
			line += "\treused"
		}
		if outcome.Err != nil {
			line += "\terror=" + outcome.Err.Error()
		}
		fmt.Println(line)
	}
	return nil
}

func printTools(tools []domain.ToolDescriptor, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]any{"tools": tools})
	}

	fmt.Printf("tools=%d\n", len(tools))
	for _, tool := range tools {
		fmt.Printf("%s\t%s\n", tool.Name, tool.Version)
	}
	return nil
}

func printVersion(jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(map[string]string{
			"version": app.Version,
			"build":   app.Build,
		})
	}

	if app.Build != "" {
		fmt.Printf("toolgate %s (%s)\n", app.Version, app.Build)
		return nil
	}
	fmt.Printf("toolgate %s\n", app.Version)
	return nil
}
