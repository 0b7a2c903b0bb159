package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ablylabs/termbridge/internal/guard"
	"github.com/ablylabs/termbridge/internal/runner"
	"github.com/google/uuid"
)

// Auditor records session lifecycle events for the audit trail. A nil
// Auditor disables auditing.
type Auditor interface {
	SessionStarted(sessionID, remoteAddr string)
	SessionClosed(sessionID string, exitCode *int, reason string)
}

// Config carries the registry's operational parameters. All of them are
// explicit configuration, not constants.
type Config struct {
	// Capacity is the maximum number of live (non-closed) sessions.
	Capacity int
	// BufferBytes is the output replay buffer size per session.
	BufferBytes int
	// Timeouts apply to every session the registry creates.
	Timeouts Timeouts
}

// Registry is the single authority over session creation, resume lookup, and
// eviction. It serializes capacity decisions: concurrent creates can never
// both slip past the limit.
type Registry struct {
	cfg     Config
	factory runner.Factory
	slots   *runner.Slots
	audit   Auditor

	mu       sync.Mutex
	sessions map[string]*Session
	pending  int
}

func NewRegistry(cfg Config, factory runner.Factory, slots *runner.Slots, audit Auditor) *Registry {
	return &Registry{
		cfg:      cfg,
		factory:  factory,
		slots:    slots,
		audit:    audit,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session and launches its shell. It fails fast with
// runner.ErrCapacity when the registry is full, and with a StartupError when
// the backend cannot launch; no half-formed session is ever registered.
func (r *Registry) Create(ctx context.Context, scope *guard.Scope, spec runner.LaunchSpec, remoteAddr string) (*Session, error) {
	r.mu.Lock()
	if r.liveCountLocked()+r.pending >= r.cfg.Capacity {
		r.mu.Unlock()
		return nil, fmt.Errorf("session limit %d reached: %w", r.cfg.Capacity, runner.ErrCapacity)
	}
	r.pending++
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
	}

	if err := r.slots.Acquire(ctx); err != nil {
		release()
		return nil, fmt.Errorf("acquire shell slot: %w", err)
	}

	id := uuid.New().String()
	spec.Name = id

	handle, err := r.factory.Launch(ctx, spec)
	if err != nil {
		r.slots.Release()
		release()
		return nil, err
	}

	s := newSession(id, scope, handle, r.cfg.BufferBytes, r.cfg.Timeouts, r.closed)

	r.mu.Lock()
	r.pending--
	r.sessions[id] = s
	r.mu.Unlock()

	if r.audit != nil {
		r.audit.SessionStarted(id, remoteAddr)
	}
	log.Printf("[registry] created session %s (%s backend)", id, r.factory.BackendName())

	return s, nil
}

// Resume looks up a session eligible for reattachment. Unknown IDs and
// sessions already past their lifetime yield ErrNotFound; a session held by
// another live connection yields ErrAttached. The state is re-checked under
// the session's own lock at Attach time, closing the race window.
func (r *Registry) Resume(sessionID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	switch s.State() {
	case StateClosing, StateClosed:
		return nil, ErrNotFound
	}
	if s.Attached() {
		return nil, ErrAttached
	}
	return s, nil
}

// Get returns a session by ID, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// List returns all tracked sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict force-closes a session and removes it.
func (r *Registry) Evict(sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close(ReasonEvicted)
	return nil
}

// Drain closes every session. Called at shutdown.
func (r *Registry) Drain() {
	for _, s := range r.List() {
		s.Close(ReasonShutdown)
	}
}

// closed is each session's onClose hook: it runs after the runner is
// confirmed dead and removes the registry entry in the same stroke, so no
// dangling entry ever outlives its runner.
func (r *Registry) closed(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	r.slots.Release()

	if r.audit != nil {
		var exitCode *int
		if st := s.ExitStatus(); st != nil {
			code := st.Code
			exitCode = &code
		}
		r.audit.SessionClosed(s.ID, exitCode, s.CloseReason())
	}
}

// liveCountLocked counts sessions that are not yet closed. Callers hold r.mu.
func (r *Registry) liveCountLocked() int {
	n := 0
	for _, s := range r.sessions {
		if s.State() != StateClosed {
			n++
		}
	}
	return n
}

// StartSweeper launches a background safety sweep that drops any closed
// entry a failed onClose hook might have left behind. Normal removal is
// synchronous with teardown; this is a backstop, not the mechanism.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.mu.Lock()
				for id, s := range r.sessions {
					if s.State() == StateClosed {
						delete(r.sessions, id)
						log.Printf("[registry] swept stale closed session %s", id)
					}
				}
				r.mu.Unlock()
			}
		}
	}()
}
