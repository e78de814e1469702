package codemode

import (
	"context"
	"log/slog"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/pool"
	"github.com/ziad-hsn/code-mode-toon/toon"
)

// Orchestrator is the public entry point: a registry of downstream tool
// servers loaded on demand, with uniform call, hydration, and shutdown
// operations across all of them.
type Orchestrator struct {
	log  *slog.Logger
	opts config.Options
	pool *pool.Pool
}

// New creates an orchestrator over the given server descriptors. No server
// is contacted yet; call LoadEagerServers to start the non-lazy ones, or let
// the first demand load each server.
func New(servers map[string]ServerConfig, opts ...Option) *Orchestrator {
	var o config.Options
	for _, opt := range opts {
		opt(&o)
	}

	normalized := o.Normalized()

	return &Orchestrator{
		log:  normalized.Logger,
		opts: normalized,
		pool: pool.New(normalized.Logger, servers, normalized),
	}
}

// NewFromConfigFile creates an orchestrator from a JSON configuration file
// mapping server name to descriptor.
func NewFromConfigFile(path string, opts ...Option) (*Orchestrator, error) {
	servers, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}

	return New(servers, opts...), nil
}

// EnsureLoaded makes sure the named server has a live connection, performing
// the handshake if needed. Concurrent calls for the same server share one
// handshake attempt.
func (o *Orchestrator) EnsureLoaded(ctx context.Context, name string) error {
	_, err := o.pool.EnsureLoaded(ctx, name)

	return err
}

// ListTools returns the named server's tool catalog, loading the server
// first if necessary.
func (o *Orchestrator) ListTools(ctx context.Context, name string) ([]ToolDescriptor, error) {
	conn, err := o.pool.EnsureLoaded(ctx, name)
	if err != nil {
		return nil, err
	}

	return conn.Tools(), nil
}

// Call invokes a named tool on a named server and returns the raw result.
// The server is loaded on demand; the tool name is validated against the
// server's cached catalog before anything is sent.
func (o *Orchestrator) Call(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	conn, err := o.pool.EnsureLoaded(ctx, server)
	if err != nil {
		return nil, err
	}

	return conn.Call(ctx, tool, args, o.opts.CallTimeout)
}

// CallTOON invokes a tool like Call and renders the result in the compact
// tabular text format.
func (o *Orchestrator) CallTOON(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	result, err := o.Call(ctx, server, tool, args)
	if err != nil {
		return "", err
	}

	return toon.Encode(result)
}

// Servers returns all registered server names, sorted.
func (o *Orchestrator) Servers() []string {
	return o.pool.Servers()
}

// State returns the lifecycle state of the named server.
func (o *Orchestrator) State(name string) (ServerState, error) {
	return o.pool.ServerState(name)
}

// LoadEagerServers starts every enabled server not marked lazy, concurrently,
// and returns without waiting: the orchestrator is usable immediately,
// regardless of how many eager servers come up. Individual outcomes are
// logged in the background, never returned.
func (o *Orchestrator) LoadEagerServers(ctx context.Context) {
	o.pool.LoadEagerServers(ctx)
}

// Hydrate pre-loads up to limit still-unloaded lazy servers; limit <= 0
// hydrates all of them. Returns the names that loaded successfully.
func (o *Orchestrator) Hydrate(ctx context.Context, limit int) []string {
	return o.pool.Hydrate(ctx, limit)
}

// ResetFailure clears the named server's failure count and any terminal
// self-reference marker so the next demand retries from scratch.
func (o *Orchestrator) ResetFailure(name string) error {
	return o.pool.ResetFailure(name)
}

// Shutdown drains every live connection: subprocess servers get a shutdown
// request, a grace period, an exit notification, a second grace period, then
// a kill. Returns after every subprocess has exited or been killed. The
// orchestrator refuses all work afterwards.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.pool.Shutdown(ctx)
}
