package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_SubmitExecutesJobs(t *testing.T) {
	q := NewQueue(Config{Capacity: 8, Workers: 2}, NewGate(2), discardLogger())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := q.Submit(Job{Name: "count", Run: func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}
	wg.Wait()
	if got := ran.Load(); got != 5 {
		t.Fatalf("ran=%d, want 5", got)
	}
	q.Close(nil)
}

func TestQueue_SubmitNeverBlocksWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(Config{Capacity: 1, Workers: 1}, NewGate(1), discardLogger())
	defer close(block)

	started := make(chan struct{})
	q.Submit(Job{Name: "blocker", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started

	// Worker is busy; this one occupies the single queue slot.
	if !q.Submit(Job{Name: "queued", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("expected queued job to be accepted")
	}

	done := make(chan bool, 1)
	go func() {
		done <- q.Submit(Job{Name: "overflow", Run: func(context.Context) error {
			t.Errorf("dropped job must not execute")
			return nil
		}})
	}()
	select {
	case accepted := <-done:
		if accepted {
			t.Fatalf("submit on full queue should return false")
		}
	case <-time.After(time.Second):
		t.Fatalf("submit blocked on full queue")
	}
}

func TestQueue_JobFailureDoesNotKillWorker(t *testing.T) {
	q := NewQueue(Config{Capacity: 4, Workers: 1}, NewGate(1), discardLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	q.Submit(Job{Name: "panics", Run: func(context.Context) error {
		defer wg.Done()
		panic("boom")
	}})
	ran := false
	q.Submit(Job{Name: "after", Run: func(context.Context) error {
		defer wg.Done()
		ran = true
		return nil
	}})
	wg.Wait()
	if !ran {
		t.Fatalf("worker did not survive the panicking job")
	}
	q.Close(nil)
}

func TestQueue_SubmitAfterCloseRejected(t *testing.T) {
	q := NewQueue(Config{Capacity: 4, Workers: 1}, NewGate(1), discardLogger())
	if !q.Close(nil) {
		t.Fatalf("close should succeed")
	}
	if q.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("submit after close should be rejected")
	}
}

func TestQueue_ConcurrentSubmitAndClose(t *testing.T) {
	for round := 0; round < 50; round++ {
		q := NewQueue(Config{Capacity: 64, Workers: 4}, NewGate(4), discardLogger())

		var submitted, executed atomic.Int32
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					ok := q.Submit(Job{Name: "racer", Run: func(context.Context) error {
						executed.Add(1)
						return nil
					}})
					if ok {
						submitted.Add(1)
					}
				}
			}()
		}
		close(start)
		q.Close(nil)
		wg.Wait()

		// Close drains the queue, so every accepted job must have run.
		if got, want := executed.Load(), submitted.Load(); got != want {
			t.Fatalf("round %d: executed=%d, want %d", round, got, want)
		}
		if q.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}) {
			t.Fatalf("round %d: submit after close should be rejected", round)
		}
	}
}

func TestGate_BoundsConcurrency(t *testing.T) {
	g := NewGate(1)
	if !g.TryAcquire() {
		t.Fatalf("first acquire should succeed")
	}
	if g.TryAcquire() {
		t.Fatalf("second acquire should fail while permit held")
	}
	g.Release()
	if !g.TryAcquire() {
		t.Fatalf("acquire after release should succeed")
	}
	g.Release()
}

func TestGate_AcquireHonorsContext(t *testing.T) {
	g := NewGate(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx); err == nil {
		t.Fatalf("expected context error while permit held")
	}
}
