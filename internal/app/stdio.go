package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/telemetry"
)

type stdinRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type stdinResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *stdinError     `json:"error,omitempty"`
}

type stdinError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type listToolsParams struct {
	Prefix string `json:"prefix,omitempty"`
}

const (
	methodCallTool  = "call"
	methodListTools = "list"
)

const (
	errInvalidRequest = -32600
	errToolNotFound   = -32601
	errInvalidParams  = -32602
	errCallFailed     = -32001
)

func (a *App) serveStdin(ctx context.Context, rt *runtime) error {
	dec := json.NewDecoder(os.Stdin)
	enc := json.NewEncoder(os.Stdout)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req stdinRequest
		errCh := make(chan error, 1)
		go func() {
			if err := dec.Decode(&req); err != nil {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("decode stdin: %w", err)
			}
		}

		resp := a.handleRequest(ctx, rt, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
}

func (a *App) handleRequest(ctx context.Context, rt *runtime, req stdinRequest) stdinResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, &stdinError{
			Code:    errInvalidRequest,
			Message: "invalid request",
		})
	}

	switch req.Method {
	case methodCallTool:
		return a.handleCallTool(ctx, rt, req)
	case methodListTools:
		return a.handleListTools(rt, req)
	default:
		return errorResponse(req.ID, &stdinError{
			Code:    errToolNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		})
	}
}

func (a *App) handleCallTool(ctx context.Context, rt *runtime, req stdinRequest) stdinResponse {
	var params domain.ToolCallRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, &stdinError{
			Code:    errInvalidParams,
			Message: "invalid call params",
		})
	}

	callCtx, _ := telemetry.EnsureRequestMeta(ctx, requestIDFrom(req.ID))
	logger := telemetry.LoggerWithRequest(callCtx, a.logger)

	result, err := rt.dispatcher.HandleToolCall(callCtx, params)
	if err != nil {
		logger.Warn("tool call rejected",
			telemetry.EventField(telemetry.EventCallFailure),
			telemetry.ToolField(params.Name),
			zap.Error(err))
		return errorResponse(req.ID, mapDispatchError(err))
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, &stdinError{
			Code:    errCallFailed,
			Message: "encode result: " + err.Error(),
		})
	}
	return stdinResponse{JSONRPC: "2.0", ID: req.ID, Result: payload}
}

func (a *App) handleListTools(rt *runtime, req stdinRequest) stdinResponse {
	var params listToolsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, &stdinError{
				Code:    errInvalidParams,
				Message: "invalid list params",
			})
		}
	}

	payload, err := json.Marshal(toolDescriptors(rt.registry.ListByPrefix(params.Prefix)))
	if err != nil {
		return errorResponse(req.ID, &stdinError{
			Code:    errCallFailed,
			Message: "encode result: " + err.Error(),
		})
	}
	return stdinResponse{JSONRPC: "2.0", ID: req.ID, Result: payload}
}

// mapDispatchError folds dispatch failures onto the wire codes. Constraint
// rejections and malformed constraints are the caller's fault; everything
// else surfaces as a failed call.
func mapDispatchError(err error) *stdinError {
	var constraintErr *domain.ConstraintError
	if errors.As(err, &constraintErr) {
		return &stdinError{Code: errInvalidParams, Message: constraintErr.Error()}
	}
	if errors.Is(err, domain.ErrToolNotFound) {
		return &stdinError{Code: errToolNotFound, Message: err.Error()}
	}
	if code, ok := domain.CodeFrom(err); ok && code == domain.CodeInvalidArgument {
		return &stdinError{Code: errInvalidParams, Message: err.Error()}
	}
	return &stdinError{Code: errCallFailed, Message: err.Error()}
}

func errorResponse(id any, err *stdinError) stdinResponse {
	return stdinResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   err,
	}
}

// requestIDFrom reuses a string JSON-RPC id as the request id so log lines
// correlate with the caller's own bookkeeping.
func requestIDFrom(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	return ""
}
