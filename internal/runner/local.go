package runner

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// defaultKillGrace is how long Kill waits after SIGTERM before escalating
// to SIGKILL.
const defaultKillGrace = 5 * time.Second

// LocalFactory spawns shells as direct child processes on a PTY. It is the
// backend for development and tests; production deployments use Docker.
type LocalFactory struct {
	// KillGrace overrides the SIGTERM-to-SIGKILL escalation delay.
	KillGrace time.Duration
}

func NewLocalFactory() *LocalFactory {
	return &LocalFactory{KillGrace: defaultKillGrace}
}

func (f *LocalFactory) BackendName() string { return "local" }

func (f *LocalFactory) Launch(ctx context.Context, spec LaunchSpec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, &StartupError{Backend: "local", Err: errors.New("empty command")}
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = spec.Env

	cols, rows := spec.geometry()
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, &StartupError{Backend: "local", Err: err}
	}

	waited := make(chan struct{})
	grace := f.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	var h *Handle
	h = NewHandle(ptmx, ptmx,
		func(cols, rows uint16) error {
			return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
		},
		func() error {
			// SIGTERM first, SIGKILL if the process ignores it.
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-waited:
			case <-time.After(grace):
				_ = cmd.Process.Kill()
				<-waited
			}
			return nil
		})

	var closeOnce sync.Once
	go func() {
		err := cmd.Wait()
		close(waited)
		closeOnce.Do(func() { ptmx.Close() })

		status := ExitStatus{Reason: "shell exited"}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status.Code = exitErr.ExitCode()
			if exitErr.ExitCode() == -1 {
				status.Code = 1
				status.Reason = "shell terminated by signal"
			}
		} else if err != nil {
			status.Code = 1
			status.Reason = err.Error()
		}
		h.Finish(status)
	}()

	return h, nil
}
