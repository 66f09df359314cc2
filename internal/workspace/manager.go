// Package workspace orchestrates language servers for one workspace. It is
// the only public entry point of the LSP layer: given a file path it resolves
// which servers apply and which project root to use, caches live protocol
// clients per (server, root), serializes operations per file, detects dead
// servers and respawns them, and collects normalized diagnostics.
package workspace

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/opencode-ai/lsphub/internal/client"
	"github.com/opencode-ai/lsphub/internal/event"
	"github.com/opencode-ai/lsphub/internal/logging"
	"github.com/opencode-ai/lsphub/internal/protocol"
	"github.com/opencode-ai/lsphub/internal/registry"
	"github.com/opencode-ai/lsphub/internal/spawn"
	"github.com/opencode-ai/lsphub/pkg/types"
)

// initGrace pads the outer initialization bound past the client's own
// handshake timeout, so the outer bound only fires as a safety net.
const initGrace = 5 * time.Second

// languagePriority breaks ties when several servers match a file, so a
// TypeScript-capable server beats a generic fallback.
var languagePriority = []string{"typescript", "go", "python", "rust"}

// Manager owns the client cache and all cross-client bookkeeping.
type Manager struct {
	cfg     types.Config
	reg     *registry.Registry
	spawner spawn.Spawner
	bus     *event.Bus
	exists  registry.ExistsFunc
	log     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client.Client

	flight singleflight.Group
	locks  *keyedLock
}

// Option configures a Manager.
type Option func(*Manager)

// WithSpawner replaces the default local process spawner.
func WithSpawner(s spawn.Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithRegistry replaces the built-in server registry.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.reg = r }
}

// WithBus sets the event bus lifecycle events are published on.
func WithBus(b *event.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithExistsFunc sets the filesystem collaborator used for async root
// resolution against remote or virtual filesystems.
func WithExistsFunc(fn registry.ExistsFunc) Option {
	return func(m *Manager) { m.exists = fn }
}

// NewManager creates a manager for one workspace.
func NewManager(cfg types.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.WithDefaults(),
		reg:     registry.New(),
		spawner: spawn.NewLocal(),
		bus:     event.NewBus(),
		clients: make(map[string]*client.Client),
		locks:   newKeyedLock(),
		log:     logging.Component("workspace"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the lifecycle event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Status lists the live (server, root) keys currently cached.
func (m *Manager) Status() []types.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.ServerStatus
	for key, c := range m.clients {
		out = append(out, types.ServerStatus{ID: c.ServerID(), Root: c.Root(), Key: key})
	}
	return out
}

// GetClient resolves the best server for a file and returns a live client for
// it, spawning one if needed. ok is false when no server matches the file or
// the matched server is not installed; that is not an error.
func (m *Manager) GetClient(ctx context.Context, path string) (*client.Client, bool) {
	defs := m.reg.ServersForFile(path, m.cfg.DisableServers)
	if len(defs) == 0 {
		return nil, false
	}

	def := preferredServer(defs)
	root := m.resolveRoot(ctx, def, path)

	if _, ok := def.Command(root); !ok {
		m.log.Debug().Str("server", def.ID).Str("root", root).Msg("server not installed")
		return nil, false
	}

	return m.clientFor(ctx, def, root)
}

// preferredServer picks the candidate handling the highest-priority language,
// falling back to the first candidate.
func preferredServer(defs []*registry.ServerDefinition) *registry.ServerDefinition {
	for _, lang := range languagePriority {
		for _, def := range defs {
			if slices.Contains(def.Languages, lang) {
				return def
			}
		}
	}
	return defs[0]
}

// resolveRoot walks up from the file's directory looking for the server's
// root markers, preferring the injected filesystem when one was supplied,
// and falls back to the configured workspace root.
func (m *Manager) resolveRoot(ctx context.Context, def *registry.ServerDefinition, path string) string {
	dir := filepath.Dir(path)

	if m.exists != nil {
		root, ok, err := registry.WalkUpContext(ctx, dir, def.RootMarkers, m.exists)
		if err != nil {
			m.log.Debug().Err(err).Str("server", def.ID).Msg("root walk failed")
			return m.cfg.Root
		}
		if ok {
			return root
		}
		return m.cfg.Root
	}

	if root, ok := registry.WalkUp(dir, def.RootMarkers); ok {
		return root
	}
	return m.cfg.Root
}

// clientFor returns the cached client for (server, root), evicting a dead one
// first, or initializes a new client with concurrent callers deduplicated so
// exactly one process is spawned per key.
func (m *Manager) clientFor(ctx context.Context, def *registry.ServerDefinition, root string) (*client.Client, bool) {
	key := def.ID + ":" + root

	m.mu.Lock()
	if c, ok := m.clients[key]; ok {
		if c.IsAlive() {
			m.mu.Unlock()
			return c, true
		}
		// Dead entries are evicted in the same step that detects them;
		// cleanup of the carcass happens in the background.
		delete(m.clients, key)
		m.mu.Unlock()
		m.log.Warn().Str("key", key).Msg("language server died, respawning")
		m.bus.Publish(event.Event{Type: event.ServerCrashed, ServerID: def.ID, Root: root})
		go c.Shutdown(context.WithoutCancel(ctx))
	} else {
		m.mu.Unlock()
	}

	ch := m.flight.DoChan(key, func() (any, error) {
		// Initialization is shared across callers, so it is not bound to
		// any single caller's context.
		c := client.New(def, root, m.spawner, client.Options{
			InitTimeout:  m.cfg.InitTimeout,
			PollInterval: m.cfg.PollInterval,
			SettleWindow: m.cfg.SettleWindow,
			Bus:          m.bus,
		})
		if err := c.Initialize(context.Background()); err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.clients[key] = c
		m.mu.Unlock()

		m.bus.Publish(event.Event{Type: event.ServerStarted, ServerID: def.ID, Root: root})
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			m.log.Warn().Err(res.Err).Str("key", key).Msg("language server init failed")
			return nil, false
		}
		return res.Val.(*client.Client), true
	case <-time.After(m.cfg.InitTimeout + initGrace):
		m.log.Warn().Str("key", key).Msg("language server init exceeded outer bound")
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// GetDiagnostics runs a full document lifecycle against the best server for
// the file and returns normalized diagnostics. It never fails: any
// environmental problem yields an empty list.
func (m *Manager) GetDiagnostics(ctx context.Context, path, content string) []types.Diagnostic {
	release := m.locks.Acquire(path)
	defer release()

	lang := registry.LanguageID(path)
	if lang == "" {
		return []types.Diagnostic{}
	}

	c, ok := m.GetClient(ctx, path)
	if !ok {
		return []types.Diagnostic{}
	}

	return normalizeDiagnostics(m.collect(ctx, c, path, content, lang))
}

// GetDiagnosticsMulti fans out to every matching server concurrently and
// merges the results, deduplicated by (line, character, message). One
// server's failure never suppresses another's results.
func (m *Manager) GetDiagnosticsMulti(ctx context.Context, path, content string) []types.Diagnostic {
	release := m.locks.Acquire(path)
	defer release()

	lang := registry.LanguageID(path)
	if lang == "" {
		return []types.Diagnostic{}
	}

	defs := m.reg.ServersForFile(path, m.cfg.DisableServers)
	if len(defs) == 0 {
		return []types.Diagnostic{}
	}

	results := make([][]types.Diagnostic, len(defs))
	var g errgroup.Group
	for i, def := range defs {
		i, def := i, def
		g.Go(func() error {
			root := m.resolveRoot(ctx, def, path)
			if _, ok := def.Command(root); !ok {
				return nil
			}
			c, ok := m.clientFor(ctx, def, root)
			if !ok {
				return nil
			}
			results[i] = normalizeDiagnostics(m.collect(ctx, c, path, content, lang))
			return nil
		})
	}
	// Goroutines only record results, so the error is always nil.
	_ = g.Wait()

	var merged []types.Diagnostic
	for _, r := range results {
		merged = append(merged, r...)
	}
	return dedupeDiagnostics(merged)
}

// collect drives one open, change, wait, close cycle. The close always runs
// so client and server document state never diverge, even for an abandoned
// request.
func (m *Manager) collect(ctx context.Context, c *client.Client, path, content, lang string) []protocol.Diagnostic {
	defer func() {
		if err := c.NotifyClose(path); err != nil {
			m.log.Debug().Err(err).Str("path", path).Msg("didClose failed")
		}
	}()

	if err := c.NotifyOpen(path, content, lang); err != nil {
		m.log.Debug().Err(err).Str("path", path).Msg("didOpen failed")
		return nil
	}
	if err := c.NotifyChange(path, content, 1); err != nil {
		m.log.Debug().Err(err).Str("path", path).Msg("didChange failed")
		return nil
	}

	return c.WaitForDiagnostics(ctx, path, m.cfg.DiagnosticTimeout, false)
}

// ShutdownAll tears down every live client and clears the cache.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*client.Client)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			c.Shutdown(ctx)
			m.bus.Publish(event.Event{Type: event.ServerExited, ServerID: c.ServerID(), Root: c.Root()})
		}(c)
	}
	wg.Wait()
}
