package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePeer is the far side of a Conn: it reads framed messages written by the
// client and can write framed messages back.
type pipePeer struct {
	t   *testing.T
	in  *bufio.Reader
	out io.Writer
}

func newConnPair(t *testing.T) (*Conn, *pipePeer) {
	t.Helper()
	clientReads, peerWrites := io.Pipe()
	peerReads, clientWrites := io.Pipe()
	t.Cleanup(func() {
		peerWrites.Close()
		clientWrites.Close()
	})

	conn := NewConn(clientWrites, clientReads)
	peer := &pipePeer{t: t, in: bufio.NewReader(peerReads), out: peerWrites}
	return conn, peer
}

func (p *pipePeer) read() Message {
	p.t.Helper()
	var contentLength int
	for {
		line, err := p.in.ReadString('\n')
		require.NoError(p.t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			contentLength, _ = strconv.Atoi(strings.TrimSpace(v))
		}
	}
	body := make([]byte, contentLength)
	_, err := io.ReadFull(p.in, body)
	require.NoError(p.t, err)

	var msg Message
	require.NoError(p.t, json.Unmarshal(body, &msg))
	return msg
}

func (p *pipePeer) write(msg any) {
	p.t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(p.t, err)
	_, err = fmt.Fprintf(p.out, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(p.t, err)
}

func TestConn_CallRoundTrip(t *testing.T) {
	conn, peer := newConnPair(t)
	conn.Listen()

	go func() {
		req := peer.read()
		assert.Equal(t, MethodInitialize, req.Method)
		peer.write(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"capabilities": map[string]any{}},
		})
	}()

	var result map[string]any
	err := conn.Call(context.Background(), MethodInitialize, InitializeParams{RootURI: "file:///work"}, &result)
	require.NoError(t, err)
	assert.Contains(t, result, "capabilities")
}

func TestConn_CallServerError(t *testing.T) {
	conn, peer := newConnPair(t)
	conn.Listen()

	go func() {
		req := peer.read()
		peer.write(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32600, "message": "bad request"},
		})
	}()

	err := conn.Call(context.Background(), MethodShutdown, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
}

func TestConn_CallContextTimeout(t *testing.T) {
	conn, peer := newConnPair(t)
	conn.Listen()

	go func() { peer.read() }() // swallow the request, never answer

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := conn.Call(ctx, MethodShutdown, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_NotificationDispatch(t *testing.T) {
	conn, peer := newConnPair(t)

	got := make(chan PublishDiagnosticsParams, 1)
	conn.OnNotification(MethodPublishDiagnostics, func(params json.RawMessage) {
		var p PublishDiagnosticsParams
		require.NoError(t, json.Unmarshal(params, &p))
		got <- p
	})
	conn.Listen()

	peer.write(map[string]any{
		"jsonrpc": "2.0",
		"method":  MethodPublishDiagnostics,
		"params": PublishDiagnosticsParams{
			URI:         "file:///work/main.go",
			Diagnostics: []Diagnostic{{Message: "unused variable"}},
		},
	})

	select {
	case p := <-got:
		assert.Equal(t, "file:///work/main.go", p.URI)
		require.Len(t, p.Diagnostics, 1)
		assert.Equal(t, "unused variable", p.Diagnostics[0].Message)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never dispatched")
	}
}

func TestConn_ServesConfigurationRequest(t *testing.T) {
	conn, peer := newConnPair(t)

	conn.OnRequest(MethodConfiguration, func(params json.RawMessage) (any, error) {
		var p ConfigurationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		items := make([]any, len(p.Items))
		for i := range items {
			items[i] = map[string]any{}
		}
		return items, nil
	})
	conn.Listen()

	peer.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      int64(7),
		"method":  MethodConfiguration,
		"params":  ConfigurationParams{Items: []ConfigurationItem{{Section: "gopls"}, {Section: "other"}}},
	})

	reply := peer.read()
	assert.Equal(t, int64(7), reply.ID)
	require.Nil(t, reply.Error)

	var items []any
	require.NoError(t, json.Unmarshal(reply.Result, &items))
	assert.Len(t, items, 2)
}

func TestConn_UnknownServerRequestGetsError(t *testing.T) {
	conn, peer := newConnPair(t)
	conn.Listen()

	peer.write(map[string]any{
		"jsonrpc": "2.0",
		"id":      int64(3),
		"method":  "client/unregisterCapability",
	})

	reply := peer.read()
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
}

func TestConn_NotifyWritesFrame(t *testing.T) {
	conn, peer := newConnPair(t)

	msgCh := make(chan Message, 1)
	go func() { msgCh <- peer.read() }()

	require.NoError(t, conn.Notify(MethodExit, nil))

	msg := <-msgCh
	assert.Equal(t, MethodExit, msg.Method)
	assert.Zero(t, msg.ID)
}

func TestConn_CallAfterClose(t *testing.T) {
	conn, _ := newConnPair(t)
	conn.Close()

	err := conn.Call(context.Background(), MethodShutdown, nil, nil)
	assert.Error(t, err)
}

func TestConn_PendingCallFailsOnPeerEOF(t *testing.T) {
	clientReads, peerWrites := io.Pipe()
	conn := NewConn(io.Discard, clientReads)
	conn.Listen()

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Call(context.Background(), MethodShutdown, nil, nil)
	}()

	// Give the call a moment to register, then sever the stream.
	time.Sleep(20 * time.Millisecond)
	peerWrites.CloseWithError(io.EOF)

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call hung after peer EOF")
	}
}
