package errors

import (
	"errors"
	"fmt"
	"time"
)

// CodeModeError is the base interface for all orchestrator errors.
type CodeModeError interface {
	error
	IsCodeModeError() bool
}

// Compile-time verification that all error types implement CodeModeError.
var (
	_ CodeModeError = (*SpawnError)(nil)
	_ CodeModeError = (*HandshakeTimeoutError)(nil)
	_ CodeModeError = (*SelfReferenceError)(nil)
	_ CodeModeError = (*ToolsListError)(nil)
	_ CodeModeError = (*CallTimeoutError)(nil)
	_ CodeModeError = (*CallError)(nil)
	_ CodeModeError = (*TransportError)(nil)
	_ CodeModeError = (*NotFoundError)(nil)
	_ CodeModeError = (*RetryLimitError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrStdinClosed indicates stdin was closed due to context cancellation.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrConnectionClosed indicates the connection has been closed and cannot
	// be used for further calls.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrShutdown indicates the orchestrator has been shut down and refuses
	// further loads and calls.
	ErrShutdown = errors.New("orchestrator is shut down")
)

// SpawnError indicates a subprocess server failed to start.
type SpawnError struct {
	Server string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("server %q: failed to spawn process: %v", e.Server, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsCodeModeError implements CodeModeError.
func (e *SpawnError) IsCodeModeError() bool { return true }

// HandshakeTimeoutError indicates a handshake step did not complete within
// its budget. Stage is the handshake method that timed out ("initialize" or
// "tools/list").
type HandshakeTimeoutError struct {
	Server  string
	Stage   string
	Timeout time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("server %q: %s timed out after %s", e.Server, e.Stage, e.Timeout)
}

// IsCodeModeError implements CodeModeError.
func (e *HandshakeTimeoutError) IsCodeModeError() bool { return true }

// SelfReferenceError indicates the downstream server identified itself as
// another instance of this orchestrator. Connecting would start a recursive
// spawn chain, so the handshake is aborted and the server is never retried
// until explicitly reset.
type SelfReferenceError struct {
	Server string

	// Identity the downstream server declared.
	Name      string
	Vendor    string
	Signature string
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf(
		"server %q: refusing to connect to another instance of this orchestrator (name=%q vendor=%q signature=%q)",
		e.Server, e.Name, e.Vendor, e.Signature,
	)
}

// IsCodeModeError implements CodeModeError.
func (e *SelfReferenceError) IsCodeModeError() bool { return true }

// ToolsListError indicates the tools/list handshake step failed.
type ToolsListError struct {
	Server string
	Err    error
}

func (e *ToolsListError) Error() string {
	return fmt.Sprintf("server %q: tools/list failed: %v", e.Server, e.Err)
}

func (e *ToolsListError) Unwrap() error { return e.Err }

// IsCodeModeError implements CodeModeError.
func (e *ToolsListError) IsCodeModeError() bool { return true }

// CallTimeoutError indicates a tool call received no matching response
// within its budget. The call's pending id is released; the connection
// itself stays usable.
type CallTimeoutError struct {
	Server  string
	Tool    string
	Timeout time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("server %q: call %q timed out after %s", e.Server, e.Tool, e.Timeout)
}

// IsCodeModeError implements CodeModeError.
func (e *CallTimeoutError) IsCodeModeError() bool { return true }

// CallError indicates the server answered a tool call with an error field.
type CallError struct {
	Server  string
	Tool    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("server %q: call %q failed: %s", e.Server, e.Tool, e.Message)
}

// IsCodeModeError implements CodeModeError.
func (e *CallError) IsCodeModeError() bool { return true }

// TransportError indicates a transport-level failure: an HTTP non-2xx
// response, a malformed body, or a broken pipe. Distinct from a
// protocol-level error field in a well-formed response.
type TransportError struct {
	Server string
	// StatusCode is set for HTTP transports when a non-2xx status was
	// received, zero otherwise.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("server %q: transport failure (HTTP %d): %v", e.Server, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("server %q: transport failure: %v", e.Server, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsCodeModeError implements CodeModeError.
func (e *TransportError) IsCodeModeError() bool { return true }

// NotFoundError indicates an unknown or disabled server name, or an unknown
// tool on a known server.
type NotFoundError struct {
	Server string
	// Tool is set when the server exists but the tool does not.
	Tool     string
	Disabled bool
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Tool != "":
		return fmt.Sprintf("server %q: no such tool %q", e.Server, e.Tool)
	case e.Disabled:
		return fmt.Sprintf("server %q is disabled", e.Server)
	default:
		return fmt.Sprintf("no such server %q", e.Server)
	}
}

// IsCodeModeError implements CodeModeError.
func (e *NotFoundError) IsCodeModeError() bool { return true }

// RetryLimitError indicates the server has reached its consecutive load
// failure cap and will not be retried until explicitly reset.
type RetryLimitError struct {
	Server   string
	Attempts int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("server %q: giving up after %d failed load attempts (reset required)", e.Server, e.Attempts)
}

// IsCodeModeError implements CodeModeError.
func (e *RetryLimitError) IsCodeModeError() bool { return true }
