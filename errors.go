package salvage

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for salvage. Use errors.Is to check.
var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrTimeout       = errors.New("tool execution timeout")
	ErrValidation    = errors.New("validation failed")
	ErrUnparsable    = errors.New("no valid JSON after repair")
	ErrToolExecution = errors.New("tool execution failed")
	ErrSynthesis     = errors.New("synthesis call failed")
	ErrExhausted     = errors.New("recovery attempts exhausted")
	ErrShutdown      = errors.New("registry is shut down")
)

// ClientError is an error that should be sent back to the LLM for self-correction
// (e.g. invalid JSON, schema validation failure, bad enum value).
// Do not expose stack traces or internal details to the LLM.
// Err optionally wraps a sentinel (e.g. ErrValidation) for errors.Is/errors.As.
type ClientError struct {
	Reason string
	// Retryable is set by the application (not by salvage). When true, the orchestrator
	// may retry the same call without changing arguments (e.g. transient rate limit).
	Retryable bool
	Err       error // wrapped sentinel for errors.Is/errors.As
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// Unwrap supports errors.Is/errors.As on wrapped chains (e.g. errors.Is(err, ErrValidation)).
func (e *ClientError) Unwrap() error { return e.Err }

// SystemError represents an internal failure (marshal error, panic, etc.).
// The LLM should not see the underlying error message or stack.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error"
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsClientError returns true if err is or wraps a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError returns true if err is or wraps a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// RecoveryError is the hard failure surfaced when every recovery technique is
// exhausted and fallbacks are disabled. Trail holds the ordered diagnostics
// from every stage and attempt.
type RecoveryError struct {
	Stage string // "parse" or "validation"
	Trail []string
	Err   error
}

func (e *RecoveryError) Error() string {
	if len(e.Trail) == 0 {
		return fmt.Sprintf("recovery failed at %s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("recovery failed at %s stage: %v (trail: %s)", e.Stage, e.Err, strings.Join(e.Trail, "; "))
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// wrapJSONParseError returns a ClientError for JSON unmarshal failures.
// Used by Extractor.ParseAndValidate and the tool execute path so parse errors are consistent.
func wrapJSONParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error()}
}
