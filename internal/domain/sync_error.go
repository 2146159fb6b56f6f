package domain

import (
	"errors"
	"fmt"
	"strings"
)

type SyncStage string

const (
	SyncStageFetch    SyncStage = "fetch"
	SyncStageVerify   SyncStage = "verify"
	SyncStageDecode   SyncStage = "decode"
	SyncStageValidate SyncStage = "validate"
	SyncStageHydrate  SyncStage = "hydrate"
)

// SyncError marks which stage of a service-map sync failed.
type SyncError struct {
	Stage SyncStage
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func NewSyncError(stage SyncStage, err error) error {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return &SyncError{Stage: stage, Err: err}
}

func SyncStageFrom(err error) (SyncStage, bool) {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Stage, true
	}
	return "", false
}

// SignatureError rejects an unverifiable manifest. The payload is never
// surfaced past this error.
type SignatureError struct {
	ManifestID string
	Reason     string
}

func (e *SignatureError) Error() string {
	if e.ManifestID == "" {
		return fmt.Sprintf("service map signature rejected: %s", e.Reason)
	}
	return fmt.Sprintf("service map %s signature rejected: %s", e.ManifestID, e.Reason)
}

// ManifestFetchError reports that the service map endpoint could not
// produce a usable manifest.
type ManifestFetchError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *ManifestFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch service map %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("fetch service map %s: %v", e.Endpoint, e.Err)
}

func (e *ManifestFetchError) Unwrap() error {
	return e.Err
}

// HydrationError is the per-connector failure record from a sync. One
// connector's HydrationError never blocks the rest of the run.
type HydrationError struct {
	ConnectorID string
	Endpoint    string
	Err         error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrate connector %s: %v", e.ConnectorID, e.Err)
}

func (e *HydrationError) Unwrap() error {
	return e.Err
}

// ConstraintError reports that no registered version of a tool satisfies
// the requested constraint.
type ConstraintError struct {
	Name       string
	Constraint string
	Available  []string
}

func (e *ConstraintError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("tool %s: no version satisfies %q (none registered)", e.Name, e.Constraint)
	}
	return fmt.Sprintf("tool %s: no version satisfies %q (available: %s)", e.Name, e.Constraint, strings.Join(e.Available, ", "))
}

// ExecutionError wraps a remote call failure with the identity of the tool
// that raised it.
type ExecutionError struct {
	ConnectorID string
	Tool        string
	Version     string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("call %s@%s: %v", e.Tool, e.Version, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
