// Package bridge implements the supervisor for the analyzer child services:
// environment validation, process spawning, health polling, bounded restarts,
// and graceful shutdown, composed behind a single lifecycle facade.
package bridge

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a supervisor failure.
type ErrorKind string

const (
	ErrorKindRuntimeNotFound     ErrorKind = "runtime_not_found"
	ErrorKindScriptNotFound      ErrorKind = "script_not_found"
	ErrorKindDependencyMissing   ErrorKind = "dependency_missing"
	ErrorKindPortInUse           ErrorKind = "port_in_use"
	ErrorKindSpawnFailed         ErrorKind = "spawn_failed"
	ErrorKindUnexpectedCrash     ErrorKind = "unexpected_crash"
	ErrorKindHealthCheckTimedOut ErrorKind = "health_check_timed_out"
	ErrorKindNetwork             ErrorKind = "network_error"
	ErrorKindUnknown             ErrorKind = "unknown"
)

// ErrorRecord is the diagnostic record attached to every supervisor failure.
// Message describes what happened; Suggestion tells the operator what to do
// about it; Context carries optional structured details (exit code, port,
// recent stderr lines).
type ErrorRecord struct {
	Kind       ErrorKind      `json:"kind"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// Error returns the error message for the ErrorRecord
func (e *ErrorRecord) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Interface guard for ErrorRecord
var _ error = &ErrorRecord{}

// NewRuntimeNotFoundError creates an ErrorRecord for a missing interpreter,
// listing the candidate names that were probed.
func NewRuntimeNotFoundError(candidates []string) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindRuntimeNotFound,
		Message:    fmt.Sprintf("no python interpreter found (tried: %s)", strings.Join(candidates, ", ")),
		Suggestion: "install Python 3 from https://www.python.org/downloads/ and make sure it is on your PATH",
	}
}

// NewScriptNotFoundError creates an ErrorRecord for a missing analyzer entry script.
func NewScriptNotFoundError(path string) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindScriptNotFound,
		Message:    fmt.Sprintf("analyzer script not found: %s", path),
		Suggestion: "check the service's 'script' setting in the configuration file",
		Context:    map[string]any{"path": path},
	}
}

// NewDependencyMissingError creates an ErrorRecord for a missing python library.
func NewDependencyMissingError(detail string) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindDependencyMissing,
		Message:    fmt.Sprintf("analyzer dependency missing: %s", detail),
		Suggestion: "install the analyzer's requirements: pip install -r requirements.txt",
		Context:    map[string]any{"detail": detail},
	}
}

// NewPortInUseError creates an ErrorRecord for a port the analyzer could not bind.
func NewPortInUseError(port int) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindPortInUse,
		Message:    fmt.Sprintf("port %d is already in use", port),
		Suggestion: "stop the process holding the port or configure a different port for the service",
		Context:    map[string]any{"port": port},
	}
}

// NewSpawnFailedError creates an ErrorRecord for a process that failed to launch.
func NewSpawnFailedError(err error) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindSpawnFailed,
		Message:    fmt.Sprintf("failed to start analyzer process: %v", err),
		Suggestion: "check that the interpreter and script are executable",
	}
}

// NewUnexpectedCrashError creates an ErrorRecord for a child that exited
// without being asked to.
func NewUnexpectedCrashError(exitCode int, stderrTail []string) *ErrorRecord {
	rec := &ErrorRecord{
		Kind:       ErrorKindUnexpectedCrash,
		Message:    fmt.Sprintf("analyzer process exited unexpectedly with code %d", exitCode),
		Suggestion: "inspect the recent stderr output and restart the service",
		Context:    map[string]any{"exit_code": exitCode},
	}
	if len(stderrTail) > 0 {
		rec.Context["stderr"] = stderrTail
	}
	return rec
}

// NewHealthCheckTimedOutError creates an ErrorRecord for readiness polling
// that exhausted its attempt budget.
func NewHealthCheckTimedOutError(attempts int, stderrTail []string) *ErrorRecord {
	rec := &ErrorRecord{
		Kind:       ErrorKindHealthCheckTimedOut,
		Message:    fmt.Sprintf("analyzer did not become healthy after %d attempts", attempts),
		Suggestion: "check the analyzer's dependencies and increase health_max_retries if it is just slow to start",
		Context:    map[string]any{"attempts": attempts},
	}
	if len(stderrTail) > 0 {
		rec.Context["stderr"] = stderrTail
	}
	return rec
}

// NewNetworkError creates an ErrorRecord for a transport-level failure.
func NewNetworkError(err error) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindNetwork,
		Message:    fmt.Sprintf("network error talking to analyzer: %v", err),
		Suggestion: "check that nothing is blocking local connections to the analyzer port",
	}
}

// NewUnknownError wraps an unclassified failure.
func NewUnknownError(err error) *ErrorRecord {
	return &ErrorRecord{
		Kind:       ErrorKindUnknown,
		Message:    err.Error(),
		Suggestion: "check the server logs for details",
	}
}
