package kiosk

import (
	"sync"
	"time"
)

// Stopper cancels a pending callback.
type Stopper interface {
	Stop() bool
}

// Clock abstracts time for the coordinator and its timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

type timerEntry struct {
	stop Stopper
	gen  uint64
	at   time.Time
}

// Timers holds at most one pending callback per key. Scheduling a key
// cancels its previous callback, and a callback that was already firing
// when it was replaced does nothing.
type Timers struct {
	clock   Clock
	mu      sync.Mutex
	gen     uint64
	entries map[string]timerEntry
}

// NewTimers creates an empty timer set.
func NewTimers(clock Clock) *Timers {
	if clock == nil {
		clock = RealClock
	}
	return &Timers{clock: clock, entries: make(map[string]timerEntry)}
}

// Schedule runs fn at the given time, replacing any callback for key.
func (t *Timers) Schedule(key string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(key)
	t.gen++
	gen := t.gen
	stop := t.clock.AfterFunc(at.Sub(t.clock.Now()), func() {
		t.mu.Lock()
		e, ok := t.entries[key]
		if !ok || e.gen != gen {
			t.mu.Unlock()
			return
		}
		delete(t.entries, key)
		t.mu.Unlock()
		fn()
	})
	t.entries[key] = timerEntry{stop: stop, gen: gen, at: at}
}

// Cancel drops the callback for key, if any.
func (t *Timers) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(key)
}

// CancelAll drops every pending callback.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		t.cancelLocked(key)
	}
}

// Pending returns when the callback for key is due.
func (t *Timers) Pending(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	return e.at, ok
}

func (t *Timers) cancelLocked(key string) {
	if e, ok := t.entries[key]; ok {
		e.stop.Stop()
		delete(t.entries, key)
	}
}
