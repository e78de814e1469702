// Package httprpc implements the HTTP transport: each JSON-RPC message is one
// POST carrying the envelope, with the response awaited synchronously.
package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
)

// maxResponseBody bounds how much of a response body is read.
const maxResponseBody = 16 * 1024 * 1024 // 16MB

// Transport implements config.Transport against an HTTP endpoint.
//
// Responses are delivered through the same ReadMessages channel shape the
// stdio transport uses, so the protocol layer correlates by id identically
// for both kinds. A non-2xx status or a malformed body is a transport-level
// failure, distinct from a protocol-level error field.
type Transport struct {
	log     *slog.Logger
	server  string
	url     string
	headers map[string]string
	client  *http.Client

	messages chan map[string]any
	errs     chan error

	mu        sync.Mutex
	started   bool
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates an HTTP transport for the named server.
func New(log *slog.Logger, server string, cfg *config.HTTPServerConfig, client *http.Client) *Transport {
	if client == nil {
		client = http.DefaultClient
	}

	return &Transport{
		log:      log.With("component", "http_transport", "server", server),
		server:   server,
		url:      cfg.URL,
		headers:  cfg.Headers,
		client:   client,
		messages: make(chan map[string]any, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Start validates the endpoint. There is no process to spawn; the transport
// is ready as soon as the URL parses.
func (t *Transport) Start(_ context.Context) error {
	if _, err := url.ParseRequestURI(t.url); err != nil {
		return &errors.TransportError{Server: t.server, Err: fmt.Errorf("invalid endpoint: %w", err)}
	}

	t.mu.Lock()
	t.started = true
	t.mu.Unlock()

	t.log.Debug("HTTP transport ready", "url", t.url)

	return nil
}

// ReadMessages returns the channels responses are delivered on.
func (t *Transport) ReadMessages(_ context.Context) (<-chan map[string]any, <-chan error) {
	return t.messages, t.errs
}

// SendMessage posts one JSON-RPC message. When the message is a request
// (carries an id), the response body is parsed and delivered to the messages
// channel; notifications expect no reply and any body is discarded.
func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()

	if !t.started {
		t.mu.Unlock()

		return errors.ErrTransportNotConnected
	}

	if t.closed {
		t.mu.Unlock()

		return errors.ErrConnectionClosed
	}

	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return &errors.TransportError{Server: t.server, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &errors.TransportError{Server: t.server, Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &errors.TransportError{Server: t.server, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &errors.TransportError{
			Server:     t.server,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if !expectsReply(data) {
		return nil
	}

	var msg map[string]any

	if err := json.Unmarshal(body, &msg); err != nil {
		return &errors.TransportError{Server: t.server, Err: fmt.Errorf("malformed response body: %w", err)}
	}

	select {
	case t.messages <- msg:
	case <-t.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Done returns a channel closed when the transport is closed. HTTP owns no
// local process, so this only resolves via Close.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// IsReady returns true once Start has validated the endpoint.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.started && !t.closed
}

// Close releases the transport. Nothing is owned locally, so there is no
// process to drain or kill.
//
// Only the done channel is closed: an in-flight SendMessage may still be
// selecting on the messages channel, so the message channels are left open
// and abandoned. Readers observe the end through Done.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.done) })

	return nil
}

// expectsReply reports whether the outgoing message carries an id.
func expectsReply(data []byte) bool {
	var probe struct {
		ID *int64 `json:"id"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}

	return probe.ID != nil
}
