package spawn

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"mvdan.cc/sh/v3/shell"
)

// Local runs processes on the local machine via os/exec.
type Local struct{}

// NewLocal returns the default local spawner.
func NewLocal() *Local {
	return &Local{}
}

// Spawn parses the command with shell word-splitting rules and starts it.
func (l *Local) Spawn(ctx context.Context, command string, opts Options) (Handle, error) {
	fields, err := shell.Fields(command, nil)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Dir = opts.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", fields[0], err)
	}

	h := &localHandle{cmd: cmd, stdin: stdin, stdout: stdout}

	// Reap the process so ExitCode flips exactly once, whether it exits on
	// its own or is killed.
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.exited = true
		if err == nil {
			h.code = 0
		} else if ee, ok := err.(*exec.ExitError); ok {
			h.code = ee.ExitCode()
		} else {
			h.code = -1
		}
	}()

	return h, nil
}

type localHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	mu     sync.Mutex
	exited bool
	code   int
}

func (h *localHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *localHandle) Stdout() io.Reader     { return h.stdout }

func (h *localHandle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

func (h *localHandle) Kill(context.Context) error {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
