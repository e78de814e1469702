package codemode

import (
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
)

// Error types, re-exported from the internal errors package so callers can
// match them with errors.As without importing internals.
type (
	// CodeModeError is the base interface implemented by all orchestrator
	// error types.
	CodeModeError = errors.CodeModeError
	// SpawnError indicates a subprocess server failed to start.
	SpawnError = errors.SpawnError
	// HandshakeTimeoutError indicates a handshake step exceeded its budget.
	HandshakeTimeoutError = errors.HandshakeTimeoutError
	// SelfReferenceError indicates the downstream server is another instance
	// of this orchestrator; the server is refused until reset.
	SelfReferenceError = errors.SelfReferenceError
	// ToolsListError indicates the tools/list handshake step failed.
	ToolsListError = errors.ToolsListError
	// CallTimeoutError indicates a tool call received no response in budget.
	CallTimeoutError = errors.CallTimeoutError
	// CallError indicates the server answered a call with an error field.
	CallError = errors.CallError
	// TransportError indicates a transport-level failure.
	TransportError = errors.TransportError
	// NotFoundError indicates an unknown or disabled server, or unknown tool.
	NotFoundError = errors.NotFoundError
	// RetryLimitError indicates the consecutive load failure cap was reached.
	RetryLimitError = errors.RetryLimitError
)

// Sentinel errors.
var (
	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.ErrConnectionClosed
	// ErrShutdown indicates the orchestrator has been shut down.
	ErrShutdown = errors.ErrShutdown
)
