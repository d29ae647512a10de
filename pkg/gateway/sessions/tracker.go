// Package sessions tracks in-flight live sessions for graceful shutdown:
// the server flips the tracker into draining, warns every session, cancels
// them, and waits for the relays to unwind.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is what the tracker can do to one live session.
type Handle struct {
	Cancel func()
	Notify func(code, message string) error
}

type Tracker struct {
	draining atomic.Bool

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*entry)}
}

func (t *Tracker) SetDraining(draining bool) {
	if t == nil {
		return
	}
	t.draining.Store(draining)
}

func (t *Tracker) IsDraining() bool {
	if t == nil {
		return false
	}
	return t.draining.Load()
}

func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	e := &entry{handle: h}

	t.mu.Lock()
	old := t.sessions[sessionID]
	t.sessions[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}
	return func() { t.unregister(sessionID, e) }
}

func (t *Tracker) unregister(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == e {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) snapshot() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, e := range t.sessions {
		out = append(out, e.handle)
	}
	return out
}

func (t *Tracker) NotifyAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Notify == nil {
			continue
		}
		_ = h.Notify(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.snapshot() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
