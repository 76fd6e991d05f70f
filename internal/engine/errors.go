package engine

import (
	"errors"
	"fmt"

	"github.com/dnssentinel/sentinel-brain/internal/telemetry"
)

var (
	// ErrDataUnavailable means the window held no telemetry for the target.
	ErrDataUnavailable = telemetry.ErrDataUnavailable
	// ErrRetrievalDegraded marks a cycle that ran without playbook context.
	// It is never returned from Analyze; the decision reasoning carries the marker instead.
	ErrRetrievalDegraded = errors.New("retrieval degraded")
	// ErrSynthesisFailed means no parseable candidate could be produced.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrRejected means the validator refused the candidate.
	ErrRejected = errors.New("decision rejected")
)

// Stage names the pipeline step a cycle failed in.
type Stage string

const (
	StageRead       Stage = "read"
	StageRetrieve   Stage = "retrieve"
	StageSynthesize Stage = "synthesize"
	StageValidate   Stage = "validate"
	StagePublish    Stage = "publish"
)

// CycleError wraps a failure with the target and stage it happened in.
type CycleError struct {
	Target string
	Stage  Stage
	Err    error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %s failed at %s: %v", e.Target, e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// RejectionError carries the validator's reason for refusing a candidate.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "decision rejected: " + e.Reason
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}
