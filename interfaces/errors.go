package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the failure taxonomy of the provisioning engine.
// Components wrap these with fmt.Errorf("...: %w", ...) so callers can
// classify failures with errors.Is while still seeing a specific reason.
var (
	// ErrInvalidArgument rejects malformed identifiers and non-positive
	// counts before any mutation takes place.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound reports a missing organization, host, invite or CA
	// material. No mutation is attempted.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists rejects duplicate creation of singleton resources,
	// leaving the existing state untouched.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyRunning is returned by the process supervisor when a
	// tracked daemon handle is still live.
	ErrAlreadyRunning = errors.New("already running")

	// ErrAlreadyStopped is returned by the process supervisor when no
	// daemon handle is tracked.
	ErrAlreadyStopped = errors.New("already stopped")

	// ErrInvalidState reports an invite that is deactivated, expired or
	// exhausted. The wrapping message distinguishes the three.
	ErrInvalidState = errors.New("invalid state")

	// ErrResourceExhausted means no subnet or host address is left to
	// allocate. There is no auto-expansion; an operator must intervene.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrExternalTool reports a signing-tool invocation that exited
	// non-zero, timed out, or did not produce its expected output.
	ErrExternalTool = errors.New("external tool failure")

	// ErrPermissionDenied surfaces filesystem access failures distinctly
	// from ErrNotFound.
	ErrPermissionDenied = errors.New("permission denied")
)

// ExternalToolError carries the captured output of a failed subprocess
// invocation so operators can diagnose signing-tool failures.
type ExternalToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// Is matches ExternalToolError against ErrExternalTool.
func (e *ExternalToolError) Is(target error) bool {
	return target == ErrExternalTool
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}
