package fwp

import (
	"errors"
	"fmt"
)

// FailureClass enumerates the terminal outcomes of an acquisition attempt.
// The class decides whether the orchestrator advances to the next ladder
// rung or gives up immediately.
type FailureClass int

const (
	FailureUnknown FailureClass = iota
	// FailureInvalidSource means the source identity itself is unusable
	// (malformed URL, unsupported site). Never retried.
	FailureInvalidSource
	// FailureUpstreamBlocked means the upstream rejected this particular
	// route/identity (bot detection, rate limiting, 403/429). Retried on
	// the next ladder rung.
	FailureUpstreamBlocked
	// FailureToolUnavailable means the extraction tool is missing or
	// crashed before producing any output.
	FailureToolUnavailable
	// FailureArtifactMissing means the tool reported success but the
	// merged output file does not exist.
	FailureArtifactMissing
	// FailureStorage means the blob store rejected a put/delete. Recorded
	// as a warning; local registration still counts as success.
	FailureStorage
)

func (c FailureClass) String() string {
	switch c {
	case FailureInvalidSource:
		return "invalid_source"
	case FailureUpstreamBlocked:
		return "upstream_blocked"
	case FailureToolUnavailable:
		return "tool_unavailable"
	case FailureArtifactMissing:
		return "artifact_missing"
	case FailureStorage:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this class should advance the
// ladder rather than fail the job outright. ToolUnavailable and
// ArtifactMissing are retried once by the orchestrator before becoming
// fatal; that bookkeeping lives there, not here.
func (c FailureClass) Retryable() bool {
	switch c {
	case FailureUpstreamBlocked, FailureToolUnavailable, FailureArtifactMissing:
		return true
	default:
		return false
	}
}

// AcquireError is a classified acquisition failure. Output, when set,
// carries the extraction tool's trailing output so callers can inspect
// the failure signature without re-parsing logs.
type AcquireError struct {
	Class   FailureClass
	Message string
	Output  string
	Cause   error
}

func NewAcquireError(class FailureClass, format string, args ...any) *AcquireError {
	return &AcquireError{Class: class, Message: fmt.Sprintf(format, args...)}
}

func (e *AcquireError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *AcquireError) Unwrap() error {
	return e.Cause
}

// ClassOf extracts the FailureClass from an error chain, or
// FailureUnknown if no AcquireError is present.
func ClassOf(err error) FailureClass {
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae.Class
	}
	return FailureUnknown
}
