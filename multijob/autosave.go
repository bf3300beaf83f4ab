package multijob

import (
	"context"
	"log"
	"sync"
	"time"

	"phasetrack/backend"
)

// Saver persists the job list in the background.
type Saver interface {
	Schedule(ms backend.MultiSession)
	Cancel()
}

// SessionStore is the part of the backend the autosaver writes to.
type SessionStore interface {
	SaveMultiSession(ctx context.Context, ms backend.MultiSession) error
}

// maxRetryDelay caps the backoff between attempts to save a list that
// failed to save.
const maxRetryDelay = 30 * time.Second

// Autosaver debounces job list writes: bursts of changes within the delay
// collapse into one save of the latest list. A failed save is retried with
// a doubling delay until it succeeds or the list changes.
type Autosaver struct {
	store   SessionStore
	delay   time.Duration
	timeout time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	pending  *backend.MultiSession
	gen      uint64
	failures int

	saveMu sync.Mutex // held while a save is in flight
}

// NewAutosaver creates an autosaver. A zero delay defaults to 200ms.
func NewAutosaver(store SessionStore, delay time.Duration) *Autosaver {
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Autosaver{store: store, delay: delay, timeout: 10 * time.Second}
}

// Schedule replaces the pending list and restarts the debounce timer.
func (a *Autosaver) Schedule(ms backend.MultiSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = &ms
	a.failures = 0
	a.armLocked(a.delay)
}

func (a *Autosaver) armLocked(d time.Duration) {
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, func() { a.fire(gen) })
}

// retryLocked puts a list that failed to save back unless a newer one was
// scheduled or the saver was cancelled meanwhile, and arms the next try.
func (a *Autosaver) retryLocked(ms backend.MultiSession, gen uint64) time.Duration {
	if a.pending != nil || gen != a.gen {
		return 0
	}
	a.pending = &ms
	a.failures++
	d := a.delay
	for i := 1; i < a.failures && d < maxRetryDelay; i++ {
		d *= 2
	}
	d = min(d, maxRetryDelay)
	a.armLocked(d)
	return d
}

// Cancel drops any pending save and waits for one in flight to finish, so
// a following clear cannot be overwritten by a stale list.
func (a *Autosaver) Cancel() {
	a.mu.Lock()
	a.gen++
	a.pending = nil
	a.failures = 0
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	a.saveMu.Lock()
	a.saveMu.Unlock()
}

// Flush saves the pending list now, if any. It waits for a save in flight
// first, so a list that just failed is picked up here.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	ms := a.pending
	a.pending = nil
	gen := a.gen
	a.mu.Unlock()
	if ms == nil {
		return nil
	}
	if err := a.store.SaveMultiSession(ctx, *ms); err != nil {
		a.mu.Lock()
		a.retryLocked(*ms, gen)
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()
	return nil
}

func (a *Autosaver) fire(gen uint64) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if gen != a.gen || a.pending == nil {
		a.mu.Unlock()
		return
	}
	ms := *a.pending
	a.pending = nil
	a.timer = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	err := a.store.SaveMultiSession(ctx, ms)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		a.failures = 0
		return
	}
	if d := a.retryLocked(ms, gen); d > 0 {
		log.Printf("autosave: save job list for %s: %v (retry in %s)", ms.Username, err, d)
	} else {
		log.Printf("autosave: save job list for %s: %v", ms.Username, err)
	}
}
