package config

import (
	"io"
	"log/slog"
	"time"
)

// Default budgets. The initialize round trip is short because servers that
// hang there are almost certainly misconfigured; tools/list is much longer
// because first-run downloads or compilation of some tool servers can be
// slow.
const (
	DefaultInitializeTimeout = 8 * time.Second
	DefaultToolsListTimeout  = 120 * time.Second
	DefaultCallTimeout       = 60 * time.Second

	// DefaultShutdownGrace is how long a subprocess gets to exit after a
	// shutdown request before the exit notification is written.
	DefaultShutdownGrace = 2 * time.Second
	// DefaultKillGrace is how long a subprocess gets after the exit
	// notification before it is forcibly killed.
	DefaultKillGrace = 5 * time.Second

	// DefaultMaxLoadAttempts is the consecutive failure cap after which
	// further load attempts are refused until explicitly reset.
	DefaultMaxLoadAttempts = 3

	// DefaultMaxBufferSize is the maximum length of a single JSON line read
	// from a subprocess.
	DefaultMaxBufferSize = 1024 * 1024 // 1MB
)

// Identity constants sent in the initialize clientInfo and matched against
// downstream identities during self-reference detection.
const (
	DefaultClientName    = "code-mode"
	DefaultClientVersion = "1.0.0"
	VendorTag            = "code-mode"
	Signature            = "code-mode-toon/orchestrator"
)

// Options holds orchestrator-wide configuration.
type Options struct {
	Logger *slog.Logger

	ClientName    string
	ClientVersion string

	InitializeTimeout time.Duration
	ToolsListTimeout  time.Duration
	CallTimeout       time.Duration
	ShutdownGrace     time.Duration
	KillGrace         time.Duration

	MaxLoadAttempts int
	MaxBufferSize   int
}

// Normalized returns a copy with zero fields replaced by defaults.
func (o *Options) Normalized() Options {
	out := Options{}
	if o != nil {
		out = *o
	}

	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if out.ClientName == "" {
		out.ClientName = DefaultClientName
	}

	if out.ClientVersion == "" {
		out.ClientVersion = DefaultClientVersion
	}

	if out.InitializeTimeout <= 0 {
		out.InitializeTimeout = DefaultInitializeTimeout
	}

	if out.ToolsListTimeout <= 0 {
		out.ToolsListTimeout = DefaultToolsListTimeout
	}

	if out.CallTimeout <= 0 {
		out.CallTimeout = DefaultCallTimeout
	}

	if out.ShutdownGrace <= 0 {
		out.ShutdownGrace = DefaultShutdownGrace
	}

	if out.KillGrace <= 0 {
		out.KillGrace = DefaultKillGrace
	}

	if out.MaxLoadAttempts <= 0 {
		out.MaxLoadAttempts = DefaultMaxLoadAttempts
	}

	if out.MaxBufferSize <= 0 {
		out.MaxBufferSize = DefaultMaxBufferSize
	}

	return out
}
