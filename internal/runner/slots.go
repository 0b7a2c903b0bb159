package runner

import (
	"context"
	"time"
)

// Slots is the process-wide cap on simultaneously running shells. Acquire
// waits at most the configured bound before failing with ErrCapacity, so a
// full bridge rejects promptly instead of queueing forever.
type Slots struct {
	ch   chan struct{}
	wait time.Duration
}

func NewSlots(n int, maxWait time.Duration) *Slots {
	if n < 1 {
		n = 1
	}
	return &Slots{
		ch:   make(chan struct{}, n),
		wait: maxWait,
	}
}

func (s *Slots) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrCapacity
	}
}

func (s *Slots) Release() {
	select {
	case <-s.ch:
	default:
	}
}

func (s *Slots) InUse() int {
	return len(s.ch)
}
