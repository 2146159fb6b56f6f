// Package dispatch resolves inbound tool calls against the versioned
// registry and invokes the matching handler exactly once.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/telemetry"
)

// ToolResolver is the slice of the registry the dispatcher reads.
type ToolResolver interface {
	Resolve(name, constraint string) (domain.RegisteredTool, bool, error)
	Versions(name string) []string
}

// Dispatcher implements domain.ToolDispatcher. When a request carries
// tool_requirements, every named pair must resolve before the primary
// handler runs; a single unsatisfiable pair rejects the call with no
// invocation at all.
type Dispatcher struct {
	resolver ToolResolver
	logger   *zap.Logger
}

func New(resolver ToolResolver, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		resolver: resolver,
		logger:   logger.Named("dispatch"),
	}
}

func (d *Dispatcher) HandleToolCall(ctx context.Context, req domain.ToolCallRequest) (domain.ToolCallResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.ToolCallResult{}, domain.E(domain.CodeInvalidArgument, "dispatch.HandleToolCall", "tool name is required", nil)
	}

	resolved, err := d.resolveRequirements(req.Requirements)
	if err != nil {
		return domain.ToolCallResult{}, err
	}

	primary, ok := resolved[name]
	if !ok {
		primary, err = d.resolveOne(name, "")
		if err != nil {
			return domain.ToolCallResult{}, err
		}
	}

	started := time.Now()
	output, err := primary.Handler(ctx, req.Arguments)
	duration := time.Since(started)
	if err != nil {
		execErr := &domain.ExecutionError{
			ConnectorID: primary.ConnectorID,
			Tool:        primary.Name,
			Version:     primary.Version,
			Err:         err,
		}
		d.logger.Warn("tool call failed",
			telemetry.ToolField(primary.Name),
			telemetry.VersionField(primary.Version),
			telemetry.DurationField(duration),
			zap.Error(err))
		return domain.ToolCallResult{}, execErr
	}

	d.logger.Debug("tool call complete",
		telemetry.ToolField(primary.Name),
		telemetry.VersionField(primary.Version),
		telemetry.DurationField(duration))
	return domain.ToolCallResult{
		Tool:    primary.Name,
		Version: primary.Version,
		Output:  annotateVersion(output, primary.Version),
	}, nil
}

// resolveRequirements resolves every (tool, constraint) pair up front, in
// name order so rejection is deterministic when several pairs fail.
func (d *Dispatcher) resolveRequirements(requirements map[string]string) (map[string]domain.RegisteredTool, error) {
	if len(requirements) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(requirements))
	for name := range requirements {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]domain.RegisteredTool, len(names))
	for _, name := range names {
		tool, err := d.resolveOne(name, requirements[name])
		if err != nil {
			return nil, err
		}
		resolved[name] = tool
	}
	return resolved, nil
}

func (d *Dispatcher) resolveOne(name, constraint string) (domain.RegisteredTool, error) {
	tool, ok, err := d.resolver.Resolve(name, constraint)
	if err != nil {
		return domain.RegisteredTool{}, err
	}
	if ok {
		return tool, nil
	}

	available := d.resolver.Versions(name)
	if len(available) == 0 && constraint == "" {
		return domain.RegisteredTool{}, domain.E(domain.CodeNotFound, "dispatch.resolve", "tool "+name+" is not registered", domain.ErrToolNotFound)
	}
	return domain.RegisteredTool{}, &domain.ConstraintError{
		Name:       name,
		Constraint: constraint,
		Available:  available,
	}
}

// annotateVersion injects the resolved version into JSON object results
// under the _toolVersion key. Non-object results pass through untouched;
// the version still travels on the result envelope.
func annotateVersion(output json.RawMessage, version string) json.RawMessage {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return output
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return output
	}
	obj[domain.VersionAnnotationKey] = version
	annotated, err := json.Marshal(obj)
	if err != nil {
		return output
	}
	return annotated
}
