package codemode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// rpcServer is an httptest handler speaking just enough of the protocol to
// drive the orchestrator end to end through its public API.
func rpcServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		id, hasID := req["id"]
		if !hasID {
			w.WriteHeader(http.StatusAccepted)

			return
		}

		var result any

		switch req["method"] {
		case "initialize":
			result = map[string]any{
				"serverInfo": map[string]any{"name": "directory", "version": "1.0"},
			}

		case "tools/list":
			result = map[string]any{
				"tools": []any{
					map[string]any{"name": "users", "description": "list users"},
				},
			}

		case "tools/call":
			result = map[string]any{
				"users": []any{
					map[string]any{"id": 1, "name": "Alice"},
					map[string]any{"id": 2, "name": "Bob"},
					map[string]any{"id": 3, "name": "Smith, John"},
				},
			}

		default:
			http.Error(w, "unexpected method", http.StatusBadRequest)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  result,
		})
	}))
}

func newTestOrchestrator(t *testing.T, url string) *Orchestrator {
	t.Helper()

	o := New(map[string]ServerConfig{
		"directory": &HTTPServerConfig{
			URL:          url,
			CommonConfig: CommonConfig{Lazy: true},
		},
	})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })

	return o
}

func TestOrchestratorEndToEnd(t *testing.T) {
	srv := rpcServer(t)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)

	require.Equal(t, []string{"directory"}, o.Servers())

	state, err := o.State("directory")
	require.NoError(t, err)
	require.Equal(t, StateUnloaded, state)

	tools, err := o.ListTools(context.Background(), "directory")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "users", tools[0].Name)

	state, err = o.State("directory")
	require.NoError(t, err)
	require.Equal(t, StateReady, state)

	result, err := o.Call(context.Background(), "directory", "users", nil)
	require.NoError(t, err)
	require.Contains(t, result, "users")
}

func TestCallTOONRendersTabular(t *testing.T) {
	srv := rpcServer(t)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)

	text, err := o.CallTOON(context.Background(), "directory", "users", nil)
	require.NoError(t, err)

	expected := "users[3]{id,name}:\n" +
		"  1,Alice\n" +
		"  2,Bob\n" +
		"  3,\"Smith, John\"\n"
	require.Equal(t, expected, text)
}

func TestCallUnknownToolFailsBeforeWire(t *testing.T) {
	srv := rpcServer(t)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)

	_, err := o.Call(context.Background(), "directory", "missing", nil)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.Tool)
}

func TestShutdownIsTerminal(t *testing.T) {
	srv := rpcServer(t)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)

	require.NoError(t, o.EnsureLoaded(context.Background(), "directory"))
	require.NoError(t, o.Shutdown(context.Background()))

	err := o.EnsureLoaded(context.Background(), "directory")
	require.ErrorIs(t, err, ErrShutdown)
}

func TestHydrateLoadsLazyServers(t *testing.T) {
	srv := rpcServer(t)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)

	loaded := o.Hydrate(context.Background(), 0)
	require.Equal(t, []string{"directory"}, loaded)

	state, err := o.State("directory")
	require.NoError(t, err)
	require.Equal(t, StateReady, state)
}
