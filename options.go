package codemode

import (
	"log/slog"
	"time"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
)

// Option configures an Orchestrator.
type Option func(*config.Options)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(log *slog.Logger) Option {
	return func(o *config.Options) { o.Logger = log }
}

// WithClientName sets the name declared in the handshake clientInfo. It also
// participates in self-reference detection against downstream identities.
func WithClientName(name string) Option {
	return func(o *config.Options) { o.ClientName = name }
}

// WithClientVersion sets the version declared in the handshake clientInfo.
func WithClientVersion(version string) Option {
	return func(o *config.Options) { o.ClientVersion = version }
}

// WithInitializeTimeout bounds the initialize round trip. Servers that hang
// here are almost certainly misconfigured, so the default is short.
func WithInitializeTimeout(d time.Duration) Option {
	return func(o *config.Options) { o.InitializeTimeout = d }
}

// WithToolsListTimeout bounds the tools/list round trip. The default is long
// because some tool servers download or compile on first run.
func WithToolsListTimeout(d time.Duration) Option {
	return func(o *config.Options) { o.ToolsListTimeout = d }
}

// WithCallTimeout bounds individual tool calls.
func WithCallTimeout(d time.Duration) Option {
	return func(o *config.Options) { o.CallTimeout = d }
}

// WithShutdownGrace sets how long a subprocess gets to exit after the
// shutdown request before the exit notification is written.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *config.Options) { o.ShutdownGrace = d }
}

// WithKillGrace sets how long a subprocess gets after the exit notification
// before it is forcibly killed.
func WithKillGrace(d time.Duration) Option {
	return func(o *config.Options) { o.KillGrace = d }
}

// WithMaxLoadAttempts sets the consecutive load failure cap after which
// further demands fail fast until ResetFailure.
func WithMaxLoadAttempts(n int) Option {
	return func(o *config.Options) { o.MaxLoadAttempts = n }
}

// WithMaxBufferSize sets the maximum length of a single JSON line read from
// a subprocess.
func WithMaxBufferSize(n int) Option {
	return func(o *config.Options) { o.MaxBufferSize = n }
}
