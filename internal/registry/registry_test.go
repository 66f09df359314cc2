package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLookPath makes every listed binary resolvable for the test's duration.
func stubLookPath(t *testing.T, available ...string) {
	t.Helper()
	orig := lookPath
	lookPath = func(bin string) (string, error) {
		for _, a := range available {
			if bin == a {
				return "/usr/bin/" + filepath.Base(bin), nil
			}
		}
		return "", errors.New("not found")
	}
	t.Cleanup(func() { lookPath = orig })
}

func TestServersForFile(t *testing.T) {
	r := New()

	tests := []struct {
		path string
		ids  []string
	}{
		{"main.go", []string{"gopls"}},
		{"src/app.ts", []string{"typescript"}},
		{"lib.rs", []string{"rust-analyzer"}},
		{"mod.py", []string{"pyright"}},
		{"core.cpp", []string{"clangd"}},
		{"README.nope", nil},
		{"Makefile", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var ids []string
			for _, def := range r.ServersForFile(tt.path, nil) {
				ids = append(ids, def.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestServersForFile_Disabled(t *testing.T) {
	r := New()
	assert.Empty(t, r.ServersForFile("main.go", []string{"gopls"}))
}

func TestServersForFile_MultipleMatches(t *testing.T) {
	r := New()
	r.Add(&ServerDefinition{
		ID:        "eslint",
		Name:      "ESLint",
		Languages: []string{"typescript", "javascript"},
		Command:   func(string) (string, bool) { return "eslint-lsp --stdio", true },
	})

	defs := r.ServersForFile("index.ts", nil)
	require.Len(t, defs, 2)
	assert.Equal(t, "typescript", defs[0].ID)
	assert.Equal(t, "eslint", defs[1].ID)
}

func TestCommand_UnavailableBinary(t *testing.T) {
	stubLookPath(t) // nothing on PATH

	r := New()
	for _, def := range r.Servers() {
		cmd, ok := def.Command("/work")
		assert.False(t, ok, "server %s should be unavailable", def.ID)
		assert.Empty(t, cmd)
	}
}

func TestCommand_AvailableBinary(t *testing.T) {
	stubLookPath(t, "gopls", "pyright-langserver")

	r := New()
	for _, def := range r.Servers() {
		cmd, ok := def.Command("/work")
		switch def.ID {
		case "gopls":
			require.True(t, ok)
			assert.Equal(t, "/usr/bin/gopls", cmd)
		case "pyright":
			require.True(t, ok)
			assert.Equal(t, "/usr/bin/pyright-langserver --stdio", cmd)
		default:
			assert.False(t, ok)
		}
	}
}

func TestLanguageID(t *testing.T) {
	tests := []struct {
		file     string
		expected string
	}{
		{"main.go", "go"},
		{"index.ts", "typescript"},
		{"App.tsx", "typescriptreact"},
		{"script.js", "javascript"},
		{"Component.jsx", "javascriptreact"},
		{"app.py", "python"},
		{"lib.rs", "rust"},
		{"program.c", "c"},
		{"program.cpp", "cpp"},
		{"header.h", "cpp"},
		{"Main.java", "java"},
		{"script.sh", "shellscript"},
		{"config.yaml", "yaml"},
		{"README.md", "markdown"},
		{"unknown.xyz", ""},
		{"no-extension", ""},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			assert.Equal(t, tt.expected, LanguageID(tt.file))
		})
	}
}

func TestWalkUp(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "go.mod"), []byte("module x\n"), 0644))

	root, ok := WalkUp(nested, []string{"go.work", "go.mod"})
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "a"), root)
}

func TestWalkUp_ClosestLevelWins(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "go.mod"), []byte("module x/pkg\n"), 0644))

	root, ok := WalkUp(nested, []string{"go.mod"})
	assert.True(t, ok)
	assert.Equal(t, nested, root)
}

func TestWalkUp_NoMarker(t *testing.T) {
	_, ok := WalkUp(t.TempDir(), []string{"definitely-not-present.xyz"})
	assert.False(t, ok)
}

func TestWalkUpContext_InjectedPredicate(t *testing.T) {
	// Virtual filesystem with a marker two levels up.
	exists := func(_ context.Context, path string) (bool, error) {
		return path == "/repo/Cargo.toml", nil
	}

	root, ok, err := WalkUpContext(context.Background(), "/repo/src/bin", []string{"Cargo.toml"}, exists)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/repo", root)
}

func TestWalkUpContext_PredicateError(t *testing.T) {
	exists := func(context.Context, string) (bool, error) {
		return false, errors.New("remote fs unreachable")
	}

	_, ok, err := WalkUpContext(context.Background(), "/repo/src", []string{"go.mod"}, exists)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestWalkUpContext_MatchesSyncVariant(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "x", "y")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), nil, 0644))

	markers := []string{"pyproject.toml", "setup.py"}
	syncRoot, syncOK := WalkUp(nested, markers)
	asyncRoot, asyncOK, err := WalkUpContext(context.Background(), nested, markers, statExists)

	require.NoError(t, err)
	assert.Equal(t, syncOK, asyncOK)
	assert.Equal(t, syncRoot, asyncRoot)
}
