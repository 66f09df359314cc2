// Package registry is the static catalogue of known language servers: which
// languages each one handles, how to build its launch command for a project
// root, and which marker files identify a project root for it.
package registry

import (
	"os/exec"
	"path/filepath"
	"slices"
)

// ServerDefinition describes one language server. Definitions are immutable
// once registered.
type ServerDefinition struct {
	// ID uniquely identifies the server (used in client cache keys and in
	// the disableServers config list).
	ID string
	// Name is the human-readable server name.
	Name string
	// Languages lists the language ids this server analyzes.
	Languages []string
	// RootMarkers are filenames whose presence identifies a project root,
	// in preference order.
	RootMarkers []string
	// Command resolves the launch command for a root. ok is false when the
	// server binary is not available there; that is a normal outcome, not
	// an error.
	Command func(root string) (cmd string, ok bool)
	// InitializationOptions returns server-specific settings sent after the
	// handshake, or nil.
	InitializationOptions func(root string) map[string]any
}

// Registry holds server definitions in registration order.
type Registry struct {
	defs []*ServerDefinition
}

// New returns a registry populated with the built-in server catalogue.
func New() *Registry {
	return &Registry{defs: builtinServers()}
}

// Add registers a custom server definition after the built-ins.
func (r *Registry) Add(def *ServerDefinition) {
	r.defs = append(r.defs, def)
}

// Servers returns all definitions in registration order.
func (r *Registry) Servers() []*ServerDefinition {
	return slices.Clone(r.defs)
}

// ServersForFile returns every enabled definition whose language set contains
// the file's language. An unrecognized extension yields an empty list.
func (r *Registry) ServersForFile(path string, disabled []string) []*ServerDefinition {
	lang := LanguageID(path)
	if lang == "" {
		return nil
	}

	var matches []*ServerDefinition
	for _, def := range r.defs {
		if slices.Contains(disabled, def.ID) {
			continue
		}
		if slices.Contains(def.Languages, lang) {
			matches = append(matches, def)
		}
	}
	return matches
}

// lookPath wraps exec.LookPath so availability checks can be stubbed in tests.
var lookPath = exec.LookPath

// pathCommand builds a Command func that resolves a binary on PATH.
func pathCommand(bin string, args ...string) func(string) (string, bool) {
	return func(string) (string, bool) {
		path, err := lookPath(bin)
		if err != nil {
			return "", false
		}
		return joinCommand(path, args), true
	}
}

func joinCommand(bin string, args []string) string {
	cmd := bin
	for _, a := range args {
		cmd += " " + a
	}
	return cmd
}

func builtinServers() []*ServerDefinition {
	return []*ServerDefinition{
		{
			ID:          "typescript",
			Name:        "TypeScript Language Server",
			Languages:   []string{"typescript", "typescriptreact", "javascript", "javascriptreact"},
			RootMarkers: []string{"tsconfig.json", "jsconfig.json", "package.json"},
			// Prefer the project-local install over a global one.
			Command: func(root string) (string, bool) {
				local := filepath.Join(root, "node_modules", ".bin", "typescript-language-server")
				if _, err := lookPath(local); err == nil {
					return local + " --stdio", true
				}
				return pathCommand("typescript-language-server", "--stdio")(root)
			},
		},
		{
			ID:          "gopls",
			Name:        "gopls",
			Languages:   []string{"go"},
			RootMarkers: []string{"go.work", "go.mod"},
			Command:     pathCommand("gopls"),
			InitializationOptions: func(string) map[string]any {
				return map[string]any{
					"gopls": map[string]any{"staticcheck": false},
				}
			},
		},
		{
			ID:          "pyright",
			Name:        "Pyright",
			Languages:   []string{"python"},
			RootMarkers: []string{"pyproject.toml", "setup.py", "setup.cfg", "requirements.txt"},
			Command:     pathCommand("pyright-langserver", "--stdio"),
			InitializationOptions: func(string) map[string]any {
				return map[string]any{
					"python": map[string]any{
						"analysis": map[string]any{"autoSearchPaths": true},
					},
				}
			},
		},
		{
			ID:          "rust-analyzer",
			Name:        "rust-analyzer",
			Languages:   []string{"rust"},
			RootMarkers: []string{"Cargo.toml"},
			Command:     pathCommand("rust-analyzer"),
		},
		{
			ID:          "clangd",
			Name:        "clangd",
			Languages:   []string{"c", "cpp"},
			RootMarkers: []string{"compile_commands.json", ".clangd", "Makefile"},
			Command:     pathCommand("clangd"),
		},
	}
}
