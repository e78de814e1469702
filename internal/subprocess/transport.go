package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
)

// Transport implements config.Transport by spawning a tool server subprocess
// and exchanging newline-delimited JSON over its standard streams.
//
// The child's stderr is connected to the parent's own stderr for diagnostics;
// it is never parsed as protocol traffic.
type Transport struct {
	log           *slog.Logger
	server        string
	command       string
	args          []string
	env           map[string]string
	maxBufferSize int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu          sync.Mutex // Protects stdin writes and lifecycle flags
	closing     bool       // Whether Close() has been called (intentional shutdown)
	stdinClosed bool

	exited    chan struct{}
	closeOnce sync.Once
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a subprocess transport for the named server. The process is
// not spawned until Start.
func New(log *slog.Logger, server string, cfg *config.StdioServerConfig, maxBufferSize int) *Transport {
	if maxBufferSize <= 0 {
		maxBufferSize = config.DefaultMaxBufferSize
	}

	return &Transport{
		log:           log.With("component", "stdio_transport", "server", server),
		server:        server,
		command:       cfg.Command,
		args:          cfg.Args,
		env:           cfg.Env,
		maxBufferSize: maxBufferSize,
		exited:        make(chan struct{}),
	}
}

// Start spawns the server subprocess and wires up its pipes.
//
// Returns SpawnError if the process fails to start. The process is started
// with exec.Command rather than a context-bound command: its lifetime spans
// many calls, not the handshake context.
func (t *Transport) Start(_ context.Context) error {
	t.log.Info("Spawning tool server subprocess", "command", t.command)

	//nolint:gosec // G204: spawning configured server commands is the point
	cmd := exec.Command(t.command, t.args...)

	if len(t.env) > 0 {
		env := os.Environ()
		for k, v := range t.env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}

		cmd.Env = env
	}

	// Diagnostics only; never protocol traffic.
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.SpawnError{Server: t.server, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	t.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.SpawnError{Server: t.server, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	t.stdout = stdout

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start tool server process", "error", err)

		return &errors.SpawnError{Server: t.server, Err: err}
	}

	t.cmd = cmd
	t.log.Info("Tool server subprocess started", "pid", cmd.Process.Pid)

	return nil
}

// ReadMessages reads JSON messages from the subprocess stdout.
//
// A goroutine scans line-delimited JSON from stdout, tolerating lines split
// arbitrarily across read chunks. Each complete line is parsed and sent to
// the messages channel. Non-JSON lines are logged and skipped. Both channels
// are closed, and Done() resolves, when the process exits.
func (t *Transport) ReadMessages(ctx context.Context) (<-chan map[string]any, <-chan error) {
	messages := make(chan map[string]any)
	errs := make(chan error, 1)

	go func() {
		defer close(messages)
		defer close(errs)
		defer t.closeOnce.Do(func() { close(t.exited) })

		scanner := bufio.NewScanner(t.stdout)
		// Set large buffer for big messages
		buf := make([]byte, t.maxBufferSize)
		scanner.Buffer(buf, t.maxBufferSize)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var msg map[string]any

			if err := json.Unmarshal(line, &msg); err != nil {
				t.log.Warn("Skipping non-JSON line on stdout", "error", err, "line", string(line))

				continue
			}

			select {
			case messages <- msg:
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Error("Scanner error while reading server output", "error", err)

			errs <- &errors.TransportError{Server: t.server, Err: err}
		}

		if t.cmd == nil {
			return
		}

		t.log.Debug("Waiting for tool server process to exit")

		if err := t.cmd.Wait(); err != nil {
			t.mu.Lock()
			isClosing := t.closing
			t.mu.Unlock()

			if isClosing {
				t.log.Debug("Tool server terminated during shutdown")

				return
			}

			t.log.Warn("Tool server process exited with error", "error", err)

			errs <- &errors.TransportError{Server: t.server, Err: err}
		} else {
			t.log.Info("Tool server process exited")
		}
	}()

	return messages, errs
}

// SendMessage sends a JSON message to the subprocess stdin.
//
// Safe for concurrent use and respects context cancellation even during a
// blocked write: if the context is cancelled mid-write, stdin is closed to
// unblock the writer and subsequent calls return ErrStdinClosed.
func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if t.stdinClosed {
		return errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Ensure data ends with newline. Copy so the caller's backing array is
	// never mutated.
	if len(data) == 0 || data[len(data)-1] != '\n' {
		newData := make([]byte, len(data)+1)
		copy(newData, data)
		newData[len(data)] = '\n'
		data = newData
	}

	done := make(chan error, 1)

	go func() {
		_, err := t.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return &errors.TransportError{Server: t.server, Err: fmt.Errorf("write to stdin: %w", err)}
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")

		_ = t.stdin.Close()
		t.stdinClosed = true

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// Done returns a channel closed once the subprocess has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.exited
}

// IsReady checks if the transport is ready for communication.
func (t *Transport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cmd != nil && t.cmd.Process != nil && t.stdin != nil && !t.stdinClosed
}

// Close terminates the subprocess with SIGKILL. Safe to call multiple times
// or on an already-terminated process.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closing = true
	t.stdinClosed = true

	if t.cmd != nil && t.cmd.Process != nil {
		t.log.Debug("Killing tool server process", "pid", t.cmd.Process.Pid)

		if err := t.cmd.Process.Kill(); err != nil && !isAlreadyFinished(err) {
			return fmt.Errorf("kill tool server process (pid %d): %w", t.cmd.Process.Pid, err)
		}
	}

	return nil
}

func isAlreadyFinished(err error) bool {
	return stderrors.Is(err, os.ErrProcessDone)
}
