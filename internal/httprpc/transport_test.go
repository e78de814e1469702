package httprpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startedTransport(t *testing.T, url string, headers map[string]string) *Transport {
	t.Helper()

	cfg := &config.HTTPServerConfig{URL: url, Headers: headers}
	tr := New(testLogger(), "web", cfg, nil)

	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	return tr
}

func TestSendRequestDeliversResponse(t *testing.T) {
	var gotContentType, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"ok": true},
		})
	}))
	defer srv.Close()

	tr := startedTransport(t, srv.URL, map[string]string{"Authorization": "Bearer token"})
	messages, _ := tr.ReadMessages(context.Background())

	err := tr.SendMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)

	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "Bearer token", gotAuth)

	select {
	case msg := <-messages:
		require.Equal(t, float64(1), msg["id"])
		require.Equal(t, map[string]any{"ok": true}, msg["result"])
	case <-time.After(time.Second):
		t.Fatal("no response delivered")
	}
}

func TestNotificationDiscardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := startedTransport(t, srv.URL, nil)
	messages, _ := tr.ReadMessages(context.Background())

	err := tr.SendMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)

	select {
	case msg := <-messages:
		t.Fatalf("unexpected message for notification: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNon2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := startedTransport(t, srv.URL, nil)

	err := tr.SendMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))

	var transportErr *errors.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("this is not json"))
	}))
	defer srv.Close()

	tr := startedTransport(t, srv.URL, nil)

	err := tr.SendMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))

	var transportErr *errors.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Zero(t, transportErr.StatusCode)
}

func TestSendBeforeStart(t *testing.T) {
	cfg := &config.HTTPServerConfig{URL: "http://localhost:1"}
	tr := New(testLogger(), "web", cfg, nil)

	err := tr.SendMessage(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, errors.ErrTransportNotConnected)
}

func TestSendAfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := startedTransport(t, srv.URL, nil)
	require.NoError(t, tr.Close())

	err := tr.SendMessage(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestCloseDuringInFlightSend(t *testing.T) {
	// A server slow enough that Close lands while the POST is outstanding.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(40 * time.Millisecond)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	for i := 0; i < 20; i++ {
		cfg := &config.HTTPServerConfig{URL: srv.URL}
		tr := New(testLogger(), "web", cfg, nil)
		require.NoError(t, tr.Start(context.Background()))
		tr.ReadMessages(context.Background())

		sendErr := make(chan error, 1)

		go func() {
			sendErr <- tr.SendMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`))
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, tr.Close())

		// The in-flight send must return cleanly: either it delivered before
		// the close won the race, or it reports the closed connection. It
		// must never panic the process.
		select {
		case err := <-sendErr:
			if err != nil {
				require.ErrorIs(t, err, errors.ErrConnectionClosed)
			}
		case <-time.After(time.Second):
			t.Fatal("send did not return after close")
		}
	}
}

func TestStartRejectsBadURL(t *testing.T) {
	cfg := &config.HTTPServerConfig{URL: "not a url"}
	tr := New(testLogger(), "web", cfg, nil)

	err := tr.Start(context.Background())

	var transportErr *errors.TransportError
	require.ErrorAs(t, err, &transportErr)
}
