// Package client runs the full lifecycle of exactly one language-server
// process: spawn, initialize handshake, document notifications, diagnostic
// buffering, and teardown.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/lsphub/internal/event"
	"github.com/opencode-ai/lsphub/internal/logging"
	"github.com/opencode-ai/lsphub/internal/protocol"
	"github.com/opencode-ai/lsphub/internal/registry"
	"github.com/opencode-ai/lsphub/internal/spawn"
	"github.com/opencode-ai/lsphub/pkg/types"
)

// ErrUnavailable means the server binary could not be located at the root.
// Callers treat it as "no server installed here", not as a failure.
var ErrUnavailable = errors.New("language server unavailable")

// Options configures a Client.
type Options struct {
	// InitTimeout bounds the initialize handshake.
	InitTimeout time.Duration
	// PollInterval is the diagnostic poll cadence.
	PollInterval time.Duration
	// SettleWindow is how long an empty diagnostic list must hold before it
	// is trusted. Servers commonly clear diagnostics before re-analysis, so
	// an instant empty answer can be an intermediate state.
	SettleWindow time.Duration
	// Bus, when set, receives diagnostics.published events.
	Bus *event.Bus
}

// diagState is the cached diagnostic list for one URI. gen changes on every
// wholesale replacement so waiters can detect a fresh push.
type diagState struct {
	list []protocol.Diagnostic
	gen  uint64
}

// Client owns one spawned server process and one JSON-RPC session to it.
// A Client is never reused after Shutdown.
type Client struct {
	id      string
	def     *registry.ServerDefinition
	root    string
	spawner spawn.Spawner
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	handle  spawn.Handle
	conn    *protocol.Conn
	diags   map[string]diagState
	nextGen uint64
	ready   bool
}

// New creates an inert client; Initialize spawns the process.
func New(def *registry.ServerDefinition, root string, spawner spawn.Spawner, opts Options) *Client {
	cfg := types.Config{
		InitTimeout:  opts.InitTimeout,
		PollInterval: opts.PollInterval,
		SettleWindow: opts.SettleWindow,
	}.WithDefaults()
	opts.InitTimeout = cfg.InitTimeout
	opts.PollInterval = cfg.PollInterval
	opts.SettleWindow = cfg.SettleWindow

	id := ulid.Make().String()
	return &Client{
		id:      id,
		def:     def,
		root:    root,
		spawner: spawner,
		opts:    opts,
		diags:   make(map[string]diagState),
		log: logging.Component("client").With().
			Str("server", def.ID).
			Str("root", root).
			Str("instance", id).
			Logger(),
	}
}

// ID returns the client's instance identifier.
func (c *Client) ID() string { return c.id }

// ServerID returns the registry id of the server this client runs.
func (c *Client) ServerID() string { return c.def.ID }

// Root returns the project root the server was started in.
func (c *Client) Root() string { return c.root }

// Ready reports whether the initialize handshake completed.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// IsAlive reports whether the process exists and has not exited.
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return false
	}
	_, exited := c.handle.ExitCode()
	return !exited
}

// Initialize resolves the launch command, spawns the process, and performs
// the LSP handshake. On timeout or failure any spawned process is shut down
// so it is not leaked, and the client must be discarded.
func (c *Client) Initialize(ctx context.Context) error {
	cmd, ok := c.def.Command(c.root)
	if !ok {
		return fmt.Errorf("%s at %s: %w", c.def.ID, c.root, ErrUnavailable)
	}

	handle, err := c.spawner.Spawn(ctx, cmd, spawn.Options{Dir: c.root})
	if err != nil {
		return fmt.Errorf("spawn %s: %w", c.def.ID, err)
	}

	conn := protocol.NewConn(handle.Stdin(), handle.Stdout())
	conn.OnNotification(protocol.MethodPublishDiagnostics, c.handlePublishDiagnostics)
	conn.OnRequest(protocol.MethodConfiguration, serveConfiguration)
	conn.OnRequest(protocol.MethodWorkDoneProgressCreate, func(json.RawMessage) (any, error) {
		return nil, nil
	})
	conn.Listen()

	c.mu.Lock()
	c.handle = handle
	c.conn = conn
	c.mu.Unlock()

	var initOpts map[string]any
	if c.def.InitializationOptions != nil {
		initOpts = c.def.InitializationOptions(c.root)
	}

	params := protocol.InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               "file://" + c.root,
		InitializationOptions: initOpts,
		Capabilities: protocol.ClientCapabilities{
			TextDocument: protocol.TextDocumentClientCapabilities{
				PublishDiagnostics: &protocol.PublishDiagnosticsCapability{VersionSupport: true},
				Completion:         &protocol.DynamicCapability{},
				Definition:         &protocol.DynamicCapability{},
				Hover:              &protocol.HoverCapability{ContentFormat: []string{"plaintext", "markdown"}},
				CodeAction:         &protocol.DynamicCapability{},
			},
			Workspace: protocol.WorkspaceClientCapabilities{
				Configuration:          true,
				DidChangeConfiguration: &protocol.DynamicCapability{},
			},
		},
	}

	ictx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()

	var result json.RawMessage
	if err := c.conn.Call(ictx, protocol.MethodInitialize, params, &result); err != nil {
		c.log.Warn().Err(err).Msg("initialize handshake failed")
		c.Shutdown(context.Background())
		return fmt.Errorf("initialize %s: %w", c.def.ID, err)
	}

	if err := c.conn.Notify(protocol.MethodInitialized, struct{}{}); err != nil {
		c.Shutdown(context.Background())
		return fmt.Errorf("initialized %s: %w", c.def.ID, err)
	}

	settings := initOpts
	if settings == nil {
		settings = map[string]any{}
	}
	if err := c.conn.Notify(protocol.MethodDidChangeConfiguration, protocol.DidChangeConfigurationParams{Settings: settings}); err != nil {
		c.log.Debug().Err(err).Msg("didChangeConfiguration failed")
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	c.log.Debug().Msg("language server ready")
	return nil
}

// serveConfiguration answers workspace/configuration with one empty object
// per requested item.
func serveConfiguration(params json.RawMessage) (any, error) {
	var p protocol.ConfigurationParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
	}
	items := make([]any, len(p.Items))
	for i := range items {
		items[i] = map[string]any{}
	}
	return items, nil
}

func (c *Client) handlePublishDiagnostics(params json.RawMessage) {
	var p protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		c.log.Debug().Err(err).Msg("malformed publishDiagnostics")
		return
	}

	// Last write wins: each push replaces the prior list for the URI.
	c.mu.Lock()
	c.nextGen++
	c.diags[p.URI] = diagState{list: p.Diagnostics, gen: c.nextGen}
	c.mu.Unlock()

	if c.opts.Bus != nil {
		c.opts.Bus.Publish(event.Event{
			Type:     event.DiagnosticsPublished,
			ServerID: c.def.ID,
			Root:     c.root,
			Path:     p.URI,
			Count:    len(p.Diagnostics),
		})
	}
}

// NotifyOpen sends textDocument/didOpen with version 0, clearing any stale
// diagnostics for the URI first.
func (c *Client) NotifyOpen(path, content, languageID string) error {
	uri := "file://" + path
	c.clearURI(uri)

	return c.notify(protocol.MethodDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    0,
			Text:       content,
		},
	})
}

// NotifyChange sends a full-document-replacement change notification.
func (c *Client) NotifyChange(path, content string, version int) error {
	return c.notify(protocol.MethodDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{URI: "file://" + path, Version: version},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: content}},
	})
}

// NotifyClose sends textDocument/didClose and drops cached diagnostics for
// the URI. It must run even when a preceding step failed so client and server
// document state never diverge.
func (c *Client) NotifyClose(path string) error {
	uri := "file://" + path
	c.clearURI(uri)

	return c.notify(protocol.MethodDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
}

func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%s: client not initialized", method)
	}
	return conn.Notify(method, params)
}

func (c *Client) clearURI(uri string) {
	c.mu.Lock()
	delete(c.diags, uri)
	c.mu.Unlock()
}

// snapshot returns the cached list and its generation for a URI.
func (c *Client) snapshot(uri string) ([]protocol.Diagnostic, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.diags[uri]
	return st.list, st.gen, ok
}

var errNotSettled = errors.New("diagnostics not settled")

// WaitForDiagnostics polls the cached list for the path until timeout.
//
// With waitForChange false it returns as soon as any cached list appears; a
// non-empty list is trusted instantly, while an empty one must survive the
// settle window before it is reported. With waitForChange true it returns
// only once the cached list differs from what was cached at call start.
// On timeout it returns whatever is cached, never an error.
func (c *Client) WaitForDiagnostics(ctx context.Context, path string, timeout time.Duration, waitForChange bool) []protocol.Diagnostic {
	uri := "file://" + path
	_, startGen, _ := c.snapshot(uri)

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result []protocol.Diagnostic
	var emptySince time.Time

	poll := func() error {
		list, gen, ok := c.snapshot(uri)

		if waitForChange {
			if ok && gen != startGen {
				result = list
				return nil
			}
			return errNotSettled
		}

		if !ok {
			return errNotSettled
		}
		if len(list) > 0 {
			result = list
			return nil
		}
		if emptySince.IsZero() {
			emptySince = time.Now()
			return errNotSettled
		}
		if time.Since(emptySince) >= c.opts.SettleWindow {
			result = list
			return nil
		}
		return errNotSettled
	}

	err := backoff.Retry(poll, backoff.WithContext(backoff.NewConstantBackOff(c.opts.PollInterval), wctx))
	if err != nil {
		// Timed out: report whatever the server has pushed so far.
		list, _, _ := c.snapshot(uri)
		return list
	}
	return result
}

// Shutdown tears the session down: a polite shutdown request raced against a
// short timeout, an exit notification, then session disposal and a force
// kill. Every step is best-effort; a failure never stops the next step.
func (c *Client) Shutdown(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	handle := c.handle
	c.conn = nil
	c.handle = nil
	c.ready = false
	c.diags = make(map[string]diagState)
	c.mu.Unlock()

	if conn != nil && handle != nil {
		if _, exited := handle.ExitCode(); !exited {
			sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := conn.Call(sctx, protocol.MethodShutdown, nil, nil); err != nil {
				c.log.Debug().Err(err).Msg("polite shutdown failed")
			}
			cancel()
			if err := conn.Notify(protocol.MethodExit, nil); err != nil {
				c.log.Debug().Err(err).Msg("exit notification failed")
			}
		}
	}

	if conn != nil {
		conn.Close()
	}
	if handle != nil {
		if err := handle.Kill(ctx); err != nil {
			c.log.Debug().Err(err).Msg("kill failed")
		}
	}
}
