package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
	"github.com/ziad-hsn/code-mode-toon/internal/httprpc"
	"github.com/ziad-hsn/code-mode-toon/internal/protocol"
	"github.com/ziad-hsn/code-mode-toon/internal/subprocess"
)

// State is the lifecycle state of one registered server.
type State string

const (
	// StateUnloaded means the server is registered but has no live connection.
	StateUnloaded State = "unloaded"
	// StateLoading means a handshake is in flight; concurrent demands join it.
	StateLoading State = "loading"
	// StateReady means the server has a live connection and a tool catalog.
	StateReady State = "ready"
	// StateFailed means the most recent load attempt failed.
	StateFailed State = "failed"
)

// loadFuture is one in-flight load that concurrent demands join. The result
// fields are written exactly once, before done is closed.
type loadFuture struct {
	done chan struct{}
	conn *protocol.Conn
	err  error
}

type entry struct {
	name string
	cfg  config.ServerConfig

	state   State
	conn    *protocol.Conn
	loading *loadFuture

	// failures counts consecutive load failures. Reaching the cap makes
	// further demands fail fast until ResetFailure.
	failures int
	lastErr  error

	// terminalErr, once set, is returned on every demand without any further
	// load attempt. Set on self-reference detection.
	terminalErr error
}

// Pool is the server registry: one entry per configured server, loaded on
// demand and torn down together on Shutdown.
type Pool struct {
	log        *slog.Logger
	opts       config.Options
	httpClient *http.Client

	// newTransport builds the transport for a descriptor; swappable in tests.
	newTransport func(name string, cfg config.ServerConfig) (config.Transport, error)

	mu       sync.Mutex
	entries  map[string]*entry
	shutdown bool
}

// New creates a pool over the given server descriptors. No server is loaded
// until LoadEagerServers, Hydrate, or the first EnsureLoaded demand.
func New(log *slog.Logger, configs map[string]config.ServerConfig, opts config.Options) *Pool {
	entries := make(map[string]*entry, len(configs))

	for name, cfg := range configs {
		entries[name] = &entry{
			name:  name,
			cfg:   cfg,
			state: StateUnloaded,
		}
	}

	p := &Pool{
		log:        log.With("component", "pool"),
		opts:       opts,
		httpClient: http.DefaultClient,
		entries:    entries,
	}
	p.newTransport = p.buildTransport

	return p
}

// Servers returns all registered server names, sorted.
func (p *Pool) Servers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ServerState returns the lifecycle state of the named server.
func (p *Pool) ServerState(name string) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[name]
	if !ok {
		return "", &errors.NotFoundError{Server: name}
	}

	return e.state, nil
}

// EnsureLoaded returns a live connection to the named server, performing the
// handshake if necessary.
//
// Exactly one handshake runs per server at a time: concurrent demands join
// the in-flight attempt and receive its result. A server past its
// consecutive-failure cap fails fast with RetryLimitError until ResetFailure;
// a server that identified as another orchestrator instance fails fast with
// its SelfReferenceError permanently.
func (p *Pool) EnsureLoaded(ctx context.Context, name string) (*protocol.Conn, error) {
	for {
		p.mu.Lock()

		if p.shutdown {
			p.mu.Unlock()

			return nil, errors.ErrShutdown
		}

		e, ok := p.entries[name]
		if !ok {
			p.mu.Unlock()

			return nil, &errors.NotFoundError{Server: name}
		}

		if e.cfg.Common().Disabled {
			p.mu.Unlock()

			return nil, &errors.NotFoundError{Server: name, Disabled: true}
		}

		if e.terminalErr != nil {
			err := e.terminalErr
			p.mu.Unlock()

			return nil, err
		}

		switch e.state {
		case StateReady:
			conn := e.conn

			// A dead connection is not a load failure; demote and reload.
			select {
			case <-conn.Done():
			case <-conn.TransportDone():
			default:
				p.mu.Unlock()

				return conn, nil
			}

			p.log.Info("Connection lost, reloading on demand", "server", name)

			e.state = StateUnloaded
			e.conn = nil
			p.mu.Unlock()

			continue

		case StateLoading:
			future := e.loading
			p.mu.Unlock()

			select {
			case <-future.done:
				if future.err != nil {
					return nil, future.err
				}

				return future.conn, nil

			case <-ctx.Done():
				return nil, ctx.Err()
			}

		case StateUnloaded, StateFailed:
			if e.failures >= p.opts.MaxLoadAttempts {
				attempts := e.failures
				p.mu.Unlock()

				return nil, &errors.RetryLimitError{Server: name, Attempts: attempts}
			}

			future := &loadFuture{done: make(chan struct{})}
			e.state = StateLoading
			e.loading = future
			p.mu.Unlock()

			conn, err := p.load(ctx, e.name, e.cfg)

			p.mu.Lock()

			future.conn = conn
			future.err = err
			e.loading = nil

			if err != nil {
				e.state = StateFailed
				e.failures++
				e.lastErr = err

				var selfRef *errors.SelfReferenceError
				if stderrors.As(err, &selfRef) {
					e.terminalErr = err
				}

				p.log.Warn("Server load failed",
					"server", name, "failures", e.failures, "error", err)
			} else {
				e.state = StateReady
				e.conn = conn
				e.failures = 0
				e.lastErr = nil
			}

			p.mu.Unlock()
			close(future.done)

			return conn, err

		default:
			p.mu.Unlock()

			return nil, fmt.Errorf("server %q: unexpected state %q", name, e.state)
		}
	}
}

// load builds a transport for the descriptor kind and runs the handshake.
func (p *Pool) load(ctx context.Context, name string, cfg config.ServerConfig) (*protocol.Conn, error) {
	p.log.Info("Loading server", "server", name, "type", cfg.GetType())

	transport, err := p.newTransport(name, cfg)
	if err != nil {
		return nil, err
	}

	return protocol.Open(ctx, p.log, name, cfg.GetType(), transport, p.opts)
}

func (p *Pool) buildTransport(name string, cfg config.ServerConfig) (config.Transport, error) {
	switch c := cfg.(type) {
	case *config.StdioServerConfig:
		return subprocess.New(p.log, name, c, p.opts.MaxBufferSize), nil
	case *config.HTTPServerConfig:
		return httprpc.New(p.log, name, c, p.httpClient), nil
	default:
		return nil, fmt.Errorf("server %q: unsupported descriptor %T", name, cfg)
	}
}

// LoadEagerServers starts every enabled server that is not marked lazy,
// concurrently, and returns without waiting for the handshakes: the pool is
// usable immediately, and each outcome is logged in the background.
// Individual failures count against the retry cap but never abort startup.
func (p *Pool) LoadEagerServers(ctx context.Context) {
	p.mu.Lock()

	names := make([]string, 0, len(p.entries))

	for name, e := range p.entries {
		common := e.cfg.Common()
		if common.Disabled || common.Lazy {
			continue
		}

		names = append(names, name)
	}

	p.mu.Unlock()
	sort.Strings(names)

	if len(names) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, name := range names {
		g.Go(func() error {
			if _, err := p.EnsureLoaded(gctx, name); err != nil {
				p.log.Warn("Eager load failed", "server", name, "error", err)

				return nil
			}

			p.log.Info("Eager load complete", "server", name)

			return nil
		})
	}

	go func() {
		_ = g.Wait()
		p.log.Info("Eager loading finished", "servers", len(names))
	}()
}

// Hydrate pre-loads up to limit lazy servers that are still unloaded, in name
// order. A limit of zero or less hydrates all of them. Returns the names that
// loaded successfully.
func (p *Pool) Hydrate(ctx context.Context, limit int) []string {
	p.mu.Lock()

	candidates := make([]string, 0, len(p.entries))

	for name, e := range p.entries {
		common := e.cfg.Common()
		if common.Disabled || !common.Lazy {
			continue
		}

		if e.state == StateUnloaded && e.terminalErr == nil {
			candidates = append(candidates, name)
		}
	}

	p.mu.Unlock()
	sort.Strings(candidates)

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var (
		loadedMu sync.Mutex
		loaded   []string
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, name := range candidates {
		g.Go(func() error {
			if _, err := p.EnsureLoaded(gctx, name); err != nil {
				p.log.Warn("Hydration failed", "server", name, "error", err)

				return nil
			}

			loadedMu.Lock()
			loaded = append(loaded, name)
			loadedMu.Unlock()

			return nil
		})
	}

	_ = g.Wait()
	sort.Strings(loaded)

	return loaded
}

// ResetFailure clears the named server's failure count and terminal error so
// the next demand attempts a fresh load.
func (p *Pool) ResetFailure(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[name]
	if !ok {
		return &errors.NotFoundError{Server: name}
	}

	e.failures = 0
	e.lastErr = nil
	e.terminalErr = nil

	if e.state == StateFailed {
		e.state = StateUnloaded
	}

	p.log.Info("Failure state reset", "server", name)

	return nil
}

// Shutdown drains every live connection and marks the pool terminal: all
// subsequent demands fail with ErrShutdown.
//
// Each stdio server gets the polite sequence: a shutdown request, a grace
// period to exit, an exit notification, a second grace period, then a kill.
// HTTP servers own no local process and are simply released. All drains run
// concurrently; Shutdown returns when the slowest finishes.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()

	if p.shutdown {
		p.mu.Unlock()

		return nil
	}

	p.shutdown = true

	conns := make([]*protocol.Conn, 0, len(p.entries))

	for _, e := range p.entries {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}

		e.state = StateUnloaded
		e.conn = nil
	}

	p.mu.Unlock()

	p.log.Info("Shutting down", "connections", len(conns))

	var g errgroup.Group

	for _, conn := range conns {
		g.Go(func() error {
			p.drain(ctx, conn)

			return nil
		})
	}

	_ = g.Wait()

	p.log.Info("Shutdown complete")

	return nil
}

// drain runs the polite termination sequence for one connection.
func (p *Pool) drain(ctx context.Context, conn *protocol.Conn) {
	defer func() { _ = conn.Close() }()

	if conn.Kind() != config.ServerTypeStdio {
		return
	}

	log := p.log.With("server", conn.Server())

	if err := conn.SendShutdownRequest(ctx); err != nil {
		log.Debug("Shutdown request failed, killing", "error", err)

		return
	}

	if waitOrTimeout(conn.TransportDone(), p.opts.ShutdownGrace) {
		log.Debug("Server exited after shutdown request")

		return
	}

	if err := conn.Notify(ctx, "exit", nil); err != nil {
		log.Debug("Exit notification failed, killing", "error", err)

		return
	}

	if waitOrTimeout(conn.TransportDone(), p.opts.KillGrace) {
		log.Debug("Server exited after exit notification")

		return
	}

	log.Warn("Server did not exit within grace, killing")
}

// waitOrTimeout reports whether done resolved within the grace period.
func waitOrTimeout(done <-chan struct{}, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
