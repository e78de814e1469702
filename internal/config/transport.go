package config

import "context"

// Transport defines the interface for one channel to one downstream server.
// Implement this to provide custom transports for testing or alternative
// communication methods.
//
// The default implementations are the subprocess transport (stdio pipes)
// and the HTTP transport (one POST per message).
type Transport interface {
	// Start initializes the transport and prepares it for communication.
	// For subprocess transports this spawns the child process.
	Start(ctx context.Context) error

	// ReadMessages returns channels for receiving messages and errors.
	// The message channel yields parsed JSON objects from the server.
	// Both channels are closed when reading completes or an error occurs.
	ReadMessages(ctx context.Context) (<-chan map[string]any, <-chan error)

	// SendMessage sends a JSON message to the server.
	// The data should be a complete JSON message (newline is appended if
	// missing for stream transports). Must be safe for concurrent use.
	SendMessage(ctx context.Context, data []byte) error

	// Done returns a channel closed when the underlying channel has ended:
	// the subprocess exited, or Close was called.
	Done() <-chan struct{}

	// Close terminates the transport and releases resources.
	// It's safe to call Close multiple times.
	Close() error

	// IsReady returns true if the transport is ready for communication.
	IsReady() bool
}
