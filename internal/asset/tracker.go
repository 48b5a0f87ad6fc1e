package asset

import (
	"context"
	"sync"
)

type tracked struct {
	gen    uint64
	cancel context.CancelFunc
}

// Tracker hands out load generations per session. Only the newest
// generation of a session may commit; starting a new load cancels the
// previous one.
type Tracker struct {
	base context.Context

	mu      sync.Mutex
	next    uint64
	entries map[string]tracked
}

// NewTracker creates a tracker whose load contexts derive from base.
func NewTracker(base context.Context) *Tracker {
	return &Tracker{base: base, entries: make(map[string]tracked)}
}

// Begin starts a new load for sessionID, cancelling any in-flight one.
func (t *Tracker) Begin(sessionID string) (uint64, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.entries[sessionID]; ok {
		prev.cancel()
	}
	t.next++
	ctx, cancel := context.WithCancel(t.base)
	t.entries[sessionID] = tracked{gen: t.next, cancel: cancel}
	return t.next, ctx
}

// Commit reports whether gen is still the newest load of sessionID, i.e.
// whether its result may be applied.
func (t *Tracker) Commit(sessionID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sessionID]
	return ok && e.gen == gen
}

// Finish releases the load gen if it is still current.
func (t *Tracker) Finish(sessionID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[sessionID]; ok && e.gen == gen {
		e.cancel()
		delete(t.entries, sessionID)
	}
}

// Forget cancels any load of sessionID; later results become no-ops.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[sessionID]; ok {
		e.cancel()
		delete(t.entries, sessionID)
	}
}

// Pending returns the number of loads in flight.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close cancels every in-flight load.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		e.cancel()
		delete(t.entries, id)
	}
}
