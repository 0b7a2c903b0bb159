// Package runner owns the spawned interactive shells. Each session holds
// exactly one Handle, created by a Factory backend: a Docker container per
// session, or a local PTY for development and tests.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrCapacity is returned when no shell slot frees up within the bounded
// wait. Callers surface this as "try again later", never as a hang.
var ErrCapacity = errors.New("no shell capacity available")

// StartupError wraps a backend failure to launch a shell. Sessions are never
// registered when launch fails.
type StartupError struct {
	Backend string
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%s runner failed to start shell: %v", e.Backend, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ExitStatus describes how a shell ended.
type ExitStatus struct {
	Code   int
	Reason string
}

// LaunchSpec describes the shell to spawn.
type LaunchSpec struct {
	// Name identifies the shell's session, used for container naming.
	Name string
	// Command is the argv of the restricted shell.
	Command []string
	// Env is the full environment, including injected credentials.
	Env []string
	// Initial terminal geometry. Zero values default to 80x24.
	Cols uint16
	Rows uint16
}

func (s *LaunchSpec) geometry() (cols, rows uint16) {
	cols, rows = s.Cols, s.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	return cols, rows
}

// Factory launches shells for a particular backend.
type Factory interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Handle, error)
	BackendName() string
}

// Handle owns one spawned shell and its bidirectional byte stream. The
// resize and kill plumbing is backend-specific and supplied as functions,
// mirroring how docker exec and a local PTY differ only in those two spots.
type Handle struct {
	// Output streams the shell's combined stdout/stderr.
	Output io.Reader

	stdin  io.Writer
	resize func(cols, rows uint16) error
	kill   func() error

	killOnce   sync.Once
	killErr    error
	exited     atomic.Bool
	done       chan ExitStatus
	finishOnce sync.Once
}

// NewHandle wires up a Handle around backend plumbing. The backend must call
// Finish exactly once when the shell process ends.
func NewHandle(stdin io.Writer, output io.Reader, resize func(cols, rows uint16) error, kill func() error) *Handle {
	return &Handle{
		Output: output,
		stdin:  stdin,
		resize: resize,
		kill:   kill,
		done:   make(chan ExitStatus, 1),
	}
}

// Write forwards bytes to the shell's input. Once the shell has exited this
// is a silent no-op; it never fails in a way the caller must handle.
func (h *Handle) Write(p []byte) {
	if h.exited.Load() {
		return
	}
	_, _ = h.stdin.Write(p)
}

// Resize propagates terminal geometry changes to the shell's PTY.
func (h *Handle) Resize(cols, rows uint16) error {
	if h.exited.Load() {
		return nil
	}
	return h.resize(cols, rows)
}

// Kill forcibly terminates the shell. Idempotent; calling it after the shell
// already exited is safe.
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		h.killErr = h.kill()
	})
	return h.killErr
}

// Done yields the shell's exit status once, when it ends for any reason.
func (h *Handle) Done() <-chan ExitStatus {
	return h.done
}

// Finish records the shell's exit and releases writers. Safe to call more
// than once; only the first status is reported.
func (h *Handle) Finish(status ExitStatus) {
	h.finishOnce.Do(func() {
		h.exited.Store(true)
		h.done <- status
	})
}
