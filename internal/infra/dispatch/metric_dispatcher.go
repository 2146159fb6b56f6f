package dispatch

import (
	"context"
	"errors"
	"time"

	"toolgate/internal/domain"
)

// MetricDispatcher decorates a ToolDispatcher with call metrics and an
// in-flight gauge per connector.
type MetricDispatcher struct {
	inner   domain.ToolDispatcher
	metrics domain.Metrics
}

func NewMetricDispatcher(inner domain.ToolDispatcher, metrics domain.Metrics) *MetricDispatcher {
	return &MetricDispatcher{
		inner:   inner,
		metrics: metrics,
	}
}

func (d *MetricDispatcher) HandleToolCall(ctx context.Context, req domain.ToolCallRequest) (domain.ToolCallResult, error) {
	start := time.Now()
	connectorID := domain.ConnectorIDFromQualified(req.Name)
	if d.metrics != nil {
		d.metrics.AddInflightCalls(connectorID, 1)
		defer d.metrics.AddInflightCalls(connectorID, -1)
	}

	result, err := d.inner.HandleToolCall(ctx, req)
	d.observe(req, result, time.Since(start), err)
	return result, err
}

func (d *MetricDispatcher) observe(req domain.ToolCallRequest, result domain.ToolCallResult, duration time.Duration, err error) {
	if d.metrics == nil {
		return
	}
	status, reason := classifyCallResult(err)
	tool := result.Tool
	if tool == "" {
		tool = req.Name
	}
	d.metrics.ObserveToolCall(domain.CallMetric{
		ConnectorID: connectorFor(req, err),
		Tool:        tool,
		Status:      status,
		Reason:      reason,
		Duration:    duration,
	})
}

func connectorFor(req domain.ToolCallRequest, err error) string {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.ConnectorID
	}
	return domain.ConnectorIDFromQualified(req.Name)
}

func classifyCallResult(err error) (domain.CallStatus, domain.CallReason) {
	if err == nil {
		return domain.CallStatusSuccess, domain.CallReasonSuccess
	}
	if errors.Is(err, domain.ErrToolNotFound) {
		return domain.CallStatusError, domain.CallReasonNotFound
	}
	if errors.Is(err, domain.ErrInvalidConstraint) {
		return domain.CallStatusError, domain.CallReasonBadConstraint
	}
	var constraintErr *domain.ConstraintError
	if errors.As(err, &constraintErr) {
		return domain.CallStatusError, domain.CallReasonNoVersion
	}
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.CallStatusError, domain.CallReasonCanceled
		}
		return domain.CallStatusError, domain.CallReasonExecutionFailed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.CallStatusError, domain.CallReasonCanceled
	}
	return domain.CallStatusError, domain.CallReasonUnknown
}
