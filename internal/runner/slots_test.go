package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSlots_AcquireRelease(t *testing.T) {
	s := NewSlots(2, 10*time.Millisecond)

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if s.InUse() != 2 {
		t.Errorf("InUse = %d, want 2", s.InUse())
	}

	s.Release()
	if s.InUse() != 1 {
		t.Errorf("InUse after release = %d, want 1", s.InUse())
	}
}

func TestSlots_BoundedWaitFails(t *testing.T) {
	s := NewSlots(1, 20*time.Millisecond)

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	start := time.Now()
	err := s.Acquire(context.Background())
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("err = %v, want ErrCapacity", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire blocked %s, want a bounded wait", elapsed)
	}
}

func TestSlots_WaitSucceedsWhenFreed(t *testing.T) {
	s := NewSlots(1, time.Second)

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Release()
	}()

	if err := s.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

func TestSlots_ContextCancel(t *testing.T) {
	s := NewSlots(1, time.Minute)

	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := s.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSlots_ReleaseWhenEmpty(t *testing.T) {
	s := NewSlots(1, 10*time.Millisecond)

	// Must not block or underflow.
	s.Release()
	if s.InUse() != 0 {
		t.Errorf("InUse = %d, want 0", s.InUse())
	}
}

func TestSlots_MinimumOne(t *testing.T) {
	s := NewSlots(0, 10*time.Millisecond)

	if err := s.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire on zero-size slots: %v", err)
	}
}
