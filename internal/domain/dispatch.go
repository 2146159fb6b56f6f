package domain

import (
	"context"
	"encoding/json"
)

// ToolCallRequest is one inbound tool invocation. Name may be qualified
// ("connectorId.toolName") or bare; Requirements maps tool names to version
// constraints that must all resolve before anything runs.
type ToolCallRequest struct {
	Name         string            `json:"name"`
	Arguments    json.RawMessage   `json:"arguments,omitempty"`
	Requirements map[string]string `json:"tool_requirements,omitempty"`
}

// ToolCallResult carries the output of a dispatched call together with the
// concrete version the constraint resolution picked.
type ToolCallResult struct {
	Tool    string          `json:"tool"`
	Version string          `json:"version"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// ToolDispatcher resolves and invokes registered tools.
type ToolDispatcher interface {
	HandleToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResult, error)
}
