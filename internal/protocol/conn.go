package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
)

// errRoundTripTimeout is the internal marker for an expired reply budget;
// callers wrap it into the stage-appropriate error type.
var errRoundTripTimeout = stderrors.New("round trip timeout")

// Conn is one live channel to one downstream tool server: the transport
// handle plus the tool catalog captured during handshake and the pending-call
// correlation state.
//
// A Conn knows nothing about lifecycle states or retries; that belongs to
// the pool. Once Open returns, the Conn is ready for calls.
type Conn struct {
	log       *slog.Logger
	server    string
	kind      config.ServerType
	transport config.Transport
	opts      config.Options

	// Request tracking. An id is the smallest value not currently pending,
	// so an id released by a timed-out call is reused by a later call
	// without collision.
	pendingMu sync.Mutex
	pending   map[int64]chan map[string]any

	tools      []ToolDescriptor
	toolIndex  map[string]int
	serverInfo Identity

	errMu    sync.RWMutex
	fatalErr error

	closeOnce sync.Once
	done      chan struct{}
}

// Open establishes a connection: it starts the transport, runs the
// initialize → initialized → tools/list handshake, and captures the tool
// catalog.
//
// The handshake aborts with SelfReferenceError if the downstream server
// identifies as another instance of this orchestrator; in that case no
// tools/list request is ever sent. Open never retries; retry policy belongs
// to the pool.
func Open(
	ctx context.Context,
	log *slog.Logger,
	server string,
	kind config.ServerType,
	transport config.Transport,
	opts config.Options,
) (*Conn, error) {
	c := &Conn{
		log:       log.With("component", "connection", "server", server, "conn_id", ulid.Make().String()),
		server:    server,
		kind:      kind,
		transport: transport,
		opts:      opts,
		pending:   make(map[int64]chan map[string]any, 8),
		done:      make(chan struct{}),
	}

	if err := transport.Start(ctx); err != nil {
		return nil, err
	}

	// The read loop outlives the handshake context: it runs until the
	// transport ends.
	messages, errs := transport.ReadMessages(context.Background())

	go c.readLoop(messages, errs)

	if err := c.handshake(ctx); err != nil {
		_ = c.Close()

		return nil, err
	}

	c.log.Info("Connection ready", "tools", len(c.tools))

	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	self := Identity{
		Name:      c.opts.ClientName,
		Version:   c.opts.ClientVersion,
		Vendor:    config.VendorTag,
		Signature: config.Signature,
	}

	initParams := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      self,
	}

	c.log.Debug("Sending initialize request")

	initResp, err := c.roundTrip(ctx, "initialize", initParams, c.opts.InitializeTimeout)
	if err != nil {
		if stderrors.Is(err, errRoundTripTimeout) {
			return &errors.HandshakeTimeoutError{
				Server:  c.server,
				Stage:   "initialize",
				Timeout: c.opts.InitializeTimeout,
			}
		}

		return err
	}

	if msg, ok := errorMessage(initResp); ok {
		return fmt.Errorf("server %q: initialize error: %s", c.server, msg)
	}

	result, _ := initResp["result"].(map[string]any)
	remote := identityFromResult(result)
	c.serverInfo = remote

	if isSelfReference(remote, self) {
		c.log.Warn("Downstream server is another instance of this orchestrator, aborting handshake",
			"remote_name", remote.Name, "remote_vendor", remote.Vendor)

		return &errors.SelfReferenceError{
			Server:    c.server,
			Name:      remote.Name,
			Vendor:    remote.Vendor,
			Signature: remote.Signature,
		}
	}

	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return err
	}

	c.log.Debug("Sending tools/list request")

	listResp, err := c.roundTrip(ctx, "tools/list", nil, c.opts.ToolsListTimeout)
	if err != nil {
		if stderrors.Is(err, errRoundTripTimeout) {
			return &errors.HandshakeTimeoutError{
				Server:  c.server,
				Stage:   "tools/list",
				Timeout: c.opts.ToolsListTimeout,
			}
		}

		return &errors.ToolsListError{Server: c.server, Err: err}
	}

	if msg, ok := errorMessage(listResp); ok {
		return &errors.ToolsListError{Server: c.server, Err: stderrors.New(msg)}
	}

	tools, err := parseToolCatalog(listResp)
	if err != nil {
		return &errors.ToolsListError{Server: c.server, Err: err}
	}

	c.tools = tools
	c.toolIndex = make(map[string]int, len(tools))

	for i, t := range tools {
		c.toolIndex[t.Name] = i
	}

	return nil
}

func parseToolCatalog(resp map[string]any) ([]ToolDescriptor, error) {
	result, ok := resp["result"].(map[string]any)
	if !ok {
		return nil, stderrors.New("missing result")
	}

	raw, err := json.Marshal(result["tools"])
	if err != nil {
		return nil, err
	}

	var tools []ToolDescriptor
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, fmt.Errorf("malformed tool catalog: %w", err)
	}

	return tools, nil
}

// Server returns the server name this connection belongs to.
func (c *Conn) Server() string { return c.server }

// Kind returns the transport kind of this connection.
func (c *Conn) Kind() config.ServerType { return c.kind }

// ServerInfo returns the identity the downstream server declared.
func (c *Conn) ServerInfo() Identity { return c.serverInfo }

// Tools returns the tool catalog captured during handshake, in server order.
func (c *Conn) Tools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)

	return out
}

// HasTool reports whether the catalog contains a tool with the given name.
func (c *Conn) HasTool(name string) bool {
	_, ok := c.toolIndex[name]

	return ok
}

// Call invokes a named tool and waits for the correlated response.
//
// The tool name is checked against the cached catalog first. A timeout fails
// only this call: the pending id is released for reuse and the connection
// stays usable. A late response for a timed-out id is ignored.
func (c *Conn) Call(ctx context.Context, tool string, args map[string]any, timeout time.Duration) (any, error) {
	if c.isDone() {
		return nil, c.doneErr()
	}

	if !c.HasTool(tool) {
		return nil, &errors.NotFoundError{Server: c.server, Tool: tool}
	}

	if timeout <= 0 {
		timeout = c.opts.CallTimeout
	}

	params := map[string]any{
		"name":      tool,
		"arguments": args,
	}

	resp, err := c.roundTrip(ctx, "tools/call", params, timeout)
	if err != nil {
		if stderrors.Is(err, errRoundTripTimeout) {
			return nil, &errors.CallTimeoutError{Server: c.server, Tool: tool, Timeout: timeout}
		}

		return nil, err
	}

	if msg, ok := errorMessage(resp); ok {
		return nil, &errors.CallError{Server: c.server, Tool: tool, Message: msg}
	}

	return resp["result"], nil
}

// Notify sends a notification: no id, no reply expected.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	req := Request{JSONRPC: "2.0", Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	return c.transport.SendMessage(ctx, data)
}

// SendShutdownRequest writes a shutdown request without waiting for the
// reply. The id stays registered for the rest of the connection's life so a
// late reply is absorbed by its buffered channel instead of being
// mis-correlated to a concurrent call that reused the id.
func (c *Conn) SendShutdownRequest(ctx context.Context) error {
	id, _ := c.register()

	req := Request{JSONRPC: "2.0", ID: &id, Method: "shutdown"}

	data, err := json.Marshal(req)
	if err != nil {
		c.releaseID(id)

		return fmt.Errorf("marshal shutdown: %w", err)
	}

	if err := c.transport.SendMessage(ctx, data); err != nil {
		c.releaseID(id)

		return err
	}

	return nil
}

// TransportDone returns a channel closed when the underlying transport ends.
func (c *Conn) TransportDone() <-chan struct{} {
	return c.transport.Done()
}

// Done returns a channel closed when the connection stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down, killing the subprocess for stdio
// transports. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	return c.transport.Close()
}

// roundTrip sends a request with a fresh id and waits for the matching
// response, errRoundTripTimeout, connection end, or context cancellation.
func (c *Conn) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (map[string]any, error) {
	id, ch := c.register()

	req := Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		c.releaseID(id)

		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	if err := c.transport.SendMessage(ctx, data); err != nil {
		c.releaseID(id)

		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil

	case <-timer.C:
		c.releaseID(id)
		c.log.Warn("Request timed out", "method", method, "id", id, "timeout", timeout)

		return nil, errRoundTripTimeout

	case <-c.done:
		c.releaseID(id)

		return nil, c.doneErr()

	case <-ctx.Done():
		c.releaseID(id)

		return nil, ctx.Err()
	}
}

// register claims the smallest id not currently pending and installs its
// response channel.
func (c *Conn) register() (int64, chan map[string]any) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	id := c.freeID()

	ch := make(chan map[string]any, 1)
	c.pending[id] = ch

	return id, ch
}

func (c *Conn) freeID() int64 {
	var id int64
	for {
		if _, exists := c.pending[id]; !exists {
			return id
		}

		id++
	}
}

func (c *Conn) releaseID(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// readLoop routes incoming messages to pending calls by id. Messages with
// unmatched or missing ids are ignored; they belong to other in-flight calls,
// are stale replies to timed-out calls, or are server notifications.
func (c *Conn) readLoop(messages <-chan map[string]any, errs <-chan error) {
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				c.setFatal(errors.ErrConnectionClosed)

				return
			}

			id, hasID := responseID(msg)
			if !hasID {
				c.log.Debug("Ignoring message without id", "method", msg["method"])

				continue
			}

			c.pendingMu.Lock()

			ch, exists := c.pending[id]
			if exists {
				delete(c.pending, id)
			}

			c.pendingMu.Unlock()

			if !exists {
				c.log.Debug("Ignoring response with unmatched id", "id", id)

				continue
			}

			// Buffered channel owned by exactly one waiter.
			ch <- msg

		case err, ok := <-errs:
			if !ok {
				c.setFatal(errors.ErrConnectionClosed)

				return
			}

			if err != nil {
				c.log.Debug("Transport error", "error", err)
				c.setFatal(err)

				return
			}

		case <-c.transport.Done():
			c.setFatal(errors.ErrConnectionClosed)

			return

		case <-c.done:
			return
		}
	}
}

func (c *Conn) setFatal(err error) {
	c.errMu.Lock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}

	c.errMu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// doneErr returns the fatal transport error if one occurred, or the generic
// closed sentinel.
func (c *Conn) doneErr() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	if c.fatalErr != nil && !stderrors.Is(c.fatalErr, errors.ErrConnectionClosed) {
		return &errors.TransportError{Server: c.server, Err: c.fatalErr}
	}

	return errors.ErrConnectionClosed
}
