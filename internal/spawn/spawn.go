// Package spawn is the seam between the LSP layer and process execution.
// The client and manager never fork processes themselves; they depend on the
// Spawner interface, which allows local, sandboxed, or remote backends.
package spawn

import (
	"context"
	"io"
)

// Options configures a spawn request.
type Options struct {
	// Dir is the working directory for the process.
	Dir string
}

// Handle is a running process exposed as byte streams plus exit bookkeeping.
type Handle interface {
	// Stdin is the process's standard input.
	Stdin() io.WriteCloser
	// Stdout is the process's standard output.
	Stdout() io.Reader
	// ExitCode reports the exit code; ok is false while the process runs.
	ExitCode() (code int, ok bool)
	// Kill terminates the process. Killing an exited process is a no-op.
	Kill(ctx context.Context) error
}

// Spawner starts processes from a shell-style command string.
type Spawner interface {
	Spawn(ctx context.Context, command string, opts Options) (Handle, error)
}
