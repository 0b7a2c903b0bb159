// Package session tracks one logical terminal lifetime per browser user,
// independent of any single WebSocket connection. A session owns its shell
// runner, buffers output for reconnect replay, and enforces idle, absolute,
// and reconnect-grace timeouts.
package session

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ablylabs/termbridge/internal/guard"
	"github.com/ablylabs/termbridge/internal/runner"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateStarting means the runner launched but no connection has attached yet.
	StateStarting State = "starting"
	// StateActive means the runner is alive and a connection is attached.
	StateActive State = "active"
	// StateGrace means the connection dropped but the runner stays alive
	// awaiting a reconnect.
	StateGrace State = "disconnected-grace"
	// StateClosing means teardown began; the runner is being killed.
	StateClosing State = "closing"
	// StateClosed is terminal. A closed session's ID is never reused.
	StateClosed State = "closed"
)

var (
	// ErrNotFound is returned when a session cannot be resumed: unknown ID,
	// or the session is closing or closed.
	ErrNotFound = errors.New("session no longer exists")
	// ErrAttached is returned when another connection already holds the session.
	ErrAttached = errors.New("session already attached")
)

// Timeouts are the per-session timer durations.
type Timeouts struct {
	// Idle closes a session that receives no input for this long, even if
	// the socket is still open. Zero disables the idle timer.
	Idle time.Duration
	// MaxDuration is the absolute lifetime cap. Zero disables it.
	MaxDuration time.Duration
	// Grace is the reconnect window after a connection drops.
	Grace time.Duration
}

// Reasons a session closed, surfaced in exit frames and audit rows.
const (
	ReasonShellExit   = "shell exited"
	ReasonIdle        = "idle timeout"
	ReasonMaxDuration = "max session duration reached"
	ReasonGrace       = "reconnect grace period expired"
	ReasonEvicted     = "evicted"
	ReasonShutdown    = "server shutting down"
)

// outputQueueDepth bounds the chunks queued toward one attached connection.
// A client that stops reading overflows the queue and is detached instead of
// stalling the relay.
const outputQueueDepth = 64

// attachment binds one connection to the session. Output flows through a
// bounded FIFO queue consumed by a dedicated writer goroutine, so the relay
// never blocks on a slow socket while holding the session lock, and the
// replay snapshot queued at attach time always precedes live chunks.
type attachment struct {
	w     io.Writer
	queue chan []byte
	done  chan struct{}
}

// Session is the server-side object tracking one terminal lifetime.
type Session struct {
	ID        string
	CreatedAt time.Time

	scope    *guard.Scope
	handle   *runner.Handle
	timeouts Timeouts
	onClose  func(*Session)

	mu           sync.Mutex
	state        State
	buffer       *outputBuffer
	attached     *attachment
	lastActivity time.Time
	closeReason  string
	exit         *runner.ExitStatus

	idleTimer  *time.Timer
	maxTimer   *time.Timer
	graceTimer *time.Timer

	done chan struct{}
}

// newSession wires a session around a freshly launched runner and starts the
// output relay and exit watcher. onClose runs exactly once, after the runner
// is confirmed dead, and is where the registry removes its entry.
func newSession(id string, scope *guard.Scope, handle *runner.Handle, bufferSize int, timeouts Timeouts, onClose func(*Session)) *Session {
	s := &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		scope:        scope,
		handle:       handle,
		timeouts:     timeouts,
		onClose:      onClose,
		state:        StateStarting,
		buffer:       newOutputBuffer(bufferSize),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}

	if timeouts.Idle > 0 {
		s.idleTimer = time.AfterFunc(timeouts.Idle, func() { s.close(ReasonIdle) })
	}
	if timeouts.MaxDuration > 0 {
		s.maxTimer = time.AfterFunc(timeouts.MaxDuration, func() { s.close(ReasonMaxDuration) })
	}

	go s.relayOutput()
	go s.watchExit()

	return s
}

// relayOutput reads shell output into the ring buffer and queues it toward
// the attached connection, if any. Buffer write and enqueue happen under the
// same lock Attach snapshots under, so the replay-then-live seam never drops,
// duplicates, or reorders bytes. The enqueue never blocks: a client that
// stops draining its queue is detached, and catches up via replay when it
// reconnects.
func (s *Session) relayOutput() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.handle.Output.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.mu.Lock()
			s.buffer.Write(chunk)
			if a := s.attached; a != nil {
				select {
				case a.queue <- chunk:
				default:
					s.dropAttachmentLocked()
				}
			}
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// pumpAttachment delivers queued output to one connection, in order, starting
// with the replay snapshot. A write failure drops the attachment; the gateway
// notices the dead socket on its own read.
func (s *Session) pumpAttachment(a *attachment) {
	for {
		select {
		case <-a.done:
			return
		case chunk := <-a.queue:
			if _, err := a.w.Write(chunk); err != nil {
				s.mu.Lock()
				if s.attached == a {
					s.attached = nil
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// dropAttachmentLocked clears the attachment and stops its writer goroutine.
// Callers hold s.mu.
func (s *Session) dropAttachmentLocked() {
	if s.attached != nil {
		close(s.attached.done)
		s.attached = nil
	}
}

// watchExit waits for the runner to end on its own and tears the session
// down. When teardown started first (timeout or eviction killed the shell),
// the exit status is the kill's side effect and is not recorded.
func (s *Session) watchExit() {
	status := <-s.handle.Done()

	s.mu.Lock()
	if s.state != StateClosing && s.state != StateClosed {
		s.exit = &status
	}
	s.mu.Unlock()

	s.close(status.Reason)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attached reports whether a connection currently holds the session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached != nil
}

// Scope returns the immutable credential scope the shell runs under.
func (s *Session) Scope() *guard.Scope {
	return s.scope
}

// LastActivity returns the time of the last client input.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ExitStatus returns the runner's exit status, or nil if the shell was still
// alive when the session closed (timeout or eviction).
func (s *Session) ExitStatus() *runner.ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

// CloseReason returns why the session closed, empty while it is alive.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Attach binds a connection to the session. The buffered output is queued
// ahead of all live output, so w sees the replay first, then new chunks,
// with no gap, duplication, or reorder at the seam.
func (s *Session) Attach(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosing, StateClosed:
		return ErrNotFound
	case StateActive:
		if s.attached != nil {
			return ErrAttached
		}
	case StateGrace:
		if s.graceTimer != nil {
			s.graceTimer.Stop()
			s.graceTimer = nil
		}
	}

	a := &attachment{
		w:     w,
		queue: make(chan []byte, outputQueueDepth),
		done:  make(chan struct{}),
	}
	if history := s.buffer.Bytes(); len(history) > 0 {
		a.queue <- history
	}
	s.state = StateActive
	s.attached = a
	go s.pumpAttachment(a)
	return nil
}

// Detach releases the connection, leaving the runner alive for the grace
// window. Called on any socket close, clean or abrupt.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}
	s.dropAttachmentLocked()
	s.state = StateGrace
	if s.timeouts.Grace > 0 {
		s.graceTimer = time.AfterFunc(s.timeouts.Grace, func() { s.close(ReasonGrace) })
	}
}

// WriteInput forwards client bytes to the shell and refreshes the idle
// timer. Input against a closing or closed session is silently dropped.
func (s *Session) WriteInput(p []byte) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.lastActivity = time.Now()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.timeouts.Idle)
	}
	s.mu.Unlock()

	s.handle.Write(p)
}

// Resize propagates terminal geometry to the shell.
func (s *Session) Resize(cols, rows uint16) {
	s.mu.Lock()
	closed := s.state == StateClosing || s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return
	}
	if err := s.handle.Resize(cols, rows); err != nil {
		log.Printf("[session] %s resize: %v", s.ID, err)
	}
}

// Close tears the session down with the given reason. Idempotent.
func (s *Session) Close(reason string) {
	s.close(reason)
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.closeReason = reason
	s.dropAttachmentLocked()
	for _, t := range []*time.Timer{s.idleTimer, s.maxTimer, s.graceTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.idleTimer, s.maxTimer, s.graceTimer = nil, nil, nil
	s.mu.Unlock()

	if err := s.handle.Kill(); err != nil {
		log.Printf("[session] %s kill runner: %v", s.ID, err)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	close(s.done)

	if s.onClose != nil {
		s.onClose(s)
	}

	log.Printf("[session] %s closed (%s)", s.ID, reason)
}
