package subprocess

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ziad-hsn/code-mode-toon/internal/config"
	"github.com/ziad-hsn/code-mode-toon/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chunkedReader returns data in fixed-size pieces so lines land split across
// read boundaries.
type chunkedReader struct {
	data  []byte
	chunk int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}

	n := r.chunk
	if n > len(r.data) {
		n = len(r.data)
	}

	if n > len(p) {
		n = len(p)
	}

	copied := copy(p, r.data[:n])
	r.data = r.data[copied:]

	return copied, nil
}

func readerTransport(r io.Reader) *Transport {
	return &Transport{
		log:           testLogger(),
		server:        "test",
		maxBufferSize: config.DefaultMaxBufferSize,
		stdout:        io.NopCloser(r),
		exited:        make(chan struct{}),
	}
}

func collectMessages(t *testing.T, messages <-chan map[string]any) []map[string]any {
	t.Helper()

	var got []map[string]any

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return got
			}

			got = append(got, msg)

		case <-time.After(time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
}

func TestReadMessagesAcrossChunkBoundaries(t *testing.T) {
	payload := `{"jsonrpc":"2.0","id":1,"result":{"a":1}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"result":{"b":"two"}}` + "\n"

	// Chunk sizes chosen to split lines mid-token.
	for _, chunk := range []int{1, 3, 7, 64, len(payload)} {
		tr := readerTransport(&chunkedReader{data: []byte(payload), chunk: chunk})

		messages, _ := tr.ReadMessages(context.Background())

		got := collectMessages(t, messages)
		require.Len(t, got, 2, "chunk size %d", chunk)
		require.Equal(t, float64(1), got[0]["id"])
		require.Equal(t, float64(2), got[1]["id"])
	}
}

func TestReadMessagesSkipsNonJSONLines(t *testing.T) {
	payload := "starting up...\n" +
		`{"jsonrpc":"2.0","id":1,"result":{}}` + "\n" +
		"\n" +
		"warning: something\n"

	tr := readerTransport(bytes.NewReader([]byte(payload)))

	messages, _ := tr.ReadMessages(context.Background())

	got := collectMessages(t, messages)
	require.Len(t, got, 1)
	require.Equal(t, float64(1), got[0]["id"])
}

func TestReadMessagesClosesDoneOnEOF(t *testing.T) {
	tr := readerTransport(bytes.NewReader(nil))

	messages, _ := tr.ReadMessages(context.Background())
	collectMessages(t, messages)

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed after stdout EOF")
	}
}

type bufWriteCloser struct {
	bytes.Buffer
}

func (*bufWriteCloser) Close() error { return nil }

func TestSendMessageAppendsNewline(t *testing.T) {
	buf := &bufWriteCloser{}
	tr := &Transport{log: testLogger(), server: "test", stdin: buf}

	payload := []byte(`{"a":1}`)
	require.NoError(t, tr.SendMessage(context.Background(), payload))
	require.Equal(t, "{\"a\":1}\n", buf.String())

	// The caller's slice is not mutated.
	require.Equal(t, `{"a":1}`, string(payload))

	buf.Reset()
	require.NoError(t, tr.SendMessage(context.Background(), []byte("{\"b\":2}\n")))
	require.Equal(t, "{\"b\":2}\n", buf.String())
}

func TestSendMessageWithoutConnection(t *testing.T) {
	tr := &Transport{log: testLogger(), server: "test"}

	err := tr.SendMessage(context.Background(), []byte("{}"))
	require.ErrorIs(t, err, errors.ErrTransportNotConnected)

	tr.stdin = &bufWriteCloser{}
	tr.stdinClosed = true

	err = tr.SendMessage(context.Background(), []byte("{}"))
	require.ErrorIs(t, err, errors.ErrStdinClosed)
}

func TestStartFailureIsSpawnError(t *testing.T) {
	cfg := &config.StdioServerConfig{Command: "/nonexistent/definitely-not-a-binary"}
	tr := New(testLogger(), "ghost", cfg, 0)

	err := tr.Start(context.Background())
	require.Error(t, err)

	var spawn *errors.SpawnError
	require.ErrorAs(t, err, &spawn)
	require.Equal(t, "ghost", spawn.Server)
}

func TestIsAlreadyFinished(t *testing.T) {
	require.True(t, isAlreadyFinished(os.ErrProcessDone))
	require.True(t, isAlreadyFinished(fmt.Errorf("kill: %w", os.ErrProcessDone)))
	require.False(t, isAlreadyFinished(stderrors.New("permission denied")))
	require.False(t, isAlreadyFinished(nil))
}
