// Package lsptest provides an in-process fake language server for tests. It
// speaks real LSP framing over pipes and plugs in through the spawn.Spawner
// seam, so client and workspace tests exercise the same code paths as a real
// server without external binaries.
package lsptest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/lsphub/internal/protocol"
	"github.com/opencode-ai/lsphub/internal/spawn"
)

// ServerOptions scripts a fake server's behavior.
type ServerOptions struct {
	// Diagnose computes the diagnostics published after didOpen/didChange.
	// Nil publishes an empty list.
	Diagnose func(uri, text string) []protocol.Diagnostic
	// InitDelay stalls the initialize response, for handshake-timeout tests.
	InitDelay time.Duration
	// RejectInitialize makes the handshake fail with a server error.
	RejectInitialize bool
	// PublishDelay stalls diagnostic publication after a change.
	PublishDelay time.Duration
	// ClearBeforePublish publishes an empty list immediately and the real
	// list after PublishDelay, mimicking servers that clear before
	// re-analysis.
	ClearBeforePublish bool
	// NoPublish suppresses diagnostic publication entirely, for timeout
	// tests.
	NoPublish bool
}

// Call records one document notification a server received.
type Call struct {
	Method string
	URI    string
}

// Spawner implements spawn.Spawner; every Spawn starts a fresh fake server.
type Spawner struct {
	Options ServerOptions
	// OptionsFor, when set, picks behavior per spawned command, letting one
	// spawner script several servers differently.
	OptionsFor func(command string) ServerOptions
	// SpawnErr, when set, fails every spawn attempt.
	SpawnErr error

	mu      sync.Mutex
	count   int
	handles []*Handle
	calls   []Call
}

// NewSpawner creates a spawner whose servers follow opts.
func NewSpawner(opts ServerOptions) *Spawner {
	return &Spawner{Options: opts}
}

// SpawnCount reports how many processes have been started.
func (s *Spawner) SpawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Handles returns every handle ever spawned, oldest first.
func (s *Spawner) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.handles...)
}

// Calls returns the document notifications received across all servers, in
// arrival order.
func (s *Spawner) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Spawner) record(method, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, URI: uri})
}

// Spawn starts a fake server wired to a new Handle.
func (s *Spawner) Spawn(_ context.Context, command string, _ spawn.Options) (spawn.Handle, error) {
	if s.SpawnErr != nil {
		return nil, s.SpawnErr
	}

	opts := s.Options
	if s.OptionsFor != nil {
		opts = s.OptionsFor(command)
	}

	serverIn, clientStdin := io.Pipe()
	clientStdout, serverOut := io.Pipe()

	h := &Handle{
		opts:      opts,
		stdin:     clientStdin,
		stdout:    clientStdout,
		serverIn:  serverIn,
		serverOut: serverOut,
	}

	s.mu.Lock()
	s.count++
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	go s.serve(h)
	return h, nil
}

// serve is the fake server's read loop.
func (s *Spawner) serve(h *Handle) {
	r := bufio.NewReader(h.serverIn)
	for {
		msg, err := readFrame(r)
		if err != nil {
			return
		}

		switch msg.Method {
		case protocol.MethodInitialize:
			if h.opts.InitDelay > 0 {
				time.Sleep(h.opts.InitDelay)
			}
			if h.opts.RejectInitialize {
				h.write(protocol.Response{
					JSONRPC: "2.0", ID: msg.ID,
					Error: &protocol.Error{Code: -32002, Message: "server not ready"},
				})
			} else {
				h.write(protocol.Response{
					JSONRPC: "2.0", ID: msg.ID,
					Result: map[string]any{"capabilities": map[string]any{}},
				})
			}

		case protocol.MethodShutdown:
			h.write(protocol.Response{JSONRPC: "2.0", ID: msg.ID, Result: nil})

		case protocol.MethodExit:
			h.Exit(0)
			return

		case protocol.MethodDidOpen:
			var p protocol.DidOpenTextDocumentParams
			_ = json.Unmarshal(msg.Params, &p)
			s.record(protocol.MethodDidOpen, p.TextDocument.URI)
			s.publish(h, p.TextDocument.URI, p.TextDocument.Text)

		case protocol.MethodDidChange:
			var p protocol.DidChangeTextDocumentParams
			_ = json.Unmarshal(msg.Params, &p)
			text := ""
			if len(p.ContentChanges) > 0 {
				text = p.ContentChanges[len(p.ContentChanges)-1].Text
			}
			s.record(protocol.MethodDidChange, p.TextDocument.URI)
			s.publish(h, p.TextDocument.URI, text)

		case protocol.MethodDidClose:
			var p protocol.DidCloseTextDocumentParams
			_ = json.Unmarshal(msg.Params, &p)
			s.record(protocol.MethodDidClose, p.TextDocument.URI)

		default:
			// Answer any other request so the client never hangs.
			if msg.ID != 0 {
				h.write(protocol.Response{JSONRPC: "2.0", ID: msg.ID, Result: nil})
			}
		}
	}
}

// publish pushes diagnostics for a document, honoring the scripted delays.
func (s *Spawner) publish(h *Handle, uri, text string) {
	if h.opts.NoPublish {
		return
	}

	send := func(list []protocol.Diagnostic) {
		h.write(protocol.Request{
			JSONRPC: "2.0",
			Method:  protocol.MethodPublishDiagnostics,
			Params:  protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: list},
		})
	}

	// Diagnose runs off the serve loop so a scripted callback may block
	// without stalling the server.
	go func() {
		if h.opts.ClearBeforePublish {
			send([]protocol.Diagnostic{})
		}
		if h.opts.PublishDelay > 0 {
			time.Sleep(h.opts.PublishDelay)
		}
		var diags []protocol.Diagnostic
		if h.opts.Diagnose != nil {
			diags = h.opts.Diagnose(uri, text)
		}
		if diags == nil {
			diags = []protocol.Diagnostic{}
		}
		send(diags)
	}()
}

func readFrame(r *bufio.Reader) (*protocol.Message, error) {
	var contentLength int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			contentLength, _ = strconv.Atoi(strings.TrimSpace(v))
		}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var msg protocol.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Handle is the spawn.Handle for one fake server.
type Handle struct {
	opts      ServerOptions
	stdin     *io.PipeWriter
	stdout    *io.PipeReader
	serverIn  *io.PipeReader
	serverOut *io.PipeWriter

	writeMu sync.Mutex
	mu      sync.Mutex
	exited  bool
	code    int
}

func (h *Handle) Stdin() io.WriteCloser { return h.stdin }
func (h *Handle) Stdout() io.Reader     { return h.stdout }

// ExitCode reports the exit status.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

// Kill simulates a force kill.
func (h *Handle) Kill(context.Context) error {
	h.Exit(137)
	return nil
}

// Exit ends the fake process with the given code, severing both pipes. Tests
// use it directly to simulate a crash.
func (h *Handle) Exit(code int) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.exited = true
	h.code = code
	h.mu.Unlock()

	h.serverOut.CloseWithError(io.EOF)
	h.stdin.CloseWithError(io.EOF)
	h.serverIn.CloseWithError(io.EOF)
	h.stdout.CloseWithError(io.EOF)
}

// write sends one framed message to the client side; writes after exit are
// dropped.
func (h *Handle) write(msg any) {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	fmt.Fprintf(h.serverOut, "Content-Length: %d\r\n\r\n", len(body))
	h.serverOut.Write(body)
}
