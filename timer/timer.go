// Package timer provides a registry of cancellable one-shot callbacks keyed
// by (slot id, action kind). Arming a key that already holds a live timer
// cancels the old handle first, so at most one timer per key can ever fire.
// A callback that loses the race with Cancel (the underlying time.Timer
// already expired) still checks the registry and aborts if its handle was
// replaced or removed, preventing double fires across reschedules.
package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/debatehub/matchflow/telemetry"
)

type key struct {
	slotID int64
	kind   string
}

type entry struct {
	t   *time.Timer
	gen uint64
}

// Registry schedules one-shot callbacks at absolute times.
type Registry struct {
	mu      sync.Mutex
	entries map[key]*entry
	gen     uint64

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[key]*entry),
		now:     time.Now,
	}
}

// Arm schedules fn to run once at the given absolute time, replacing any
// timer already armed under the same (slotID, kind). A time in the past
// fires fn almost immediately (on the timer goroutine, never inline).
func (r *Registry) Arm(slotID int64, kind string, at time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{slotID, kind}
	if old, ok := r.entries[k]; ok {
		old.t.Stop()
	}
	r.gen++
	gen := r.gen
	d := at.Sub(r.now())
	if d < 0 {
		d = 0
	}
	e := &entry{gen: gen}
	e.t = time.AfterFunc(d, func() {
		// Claim the entry; abort if it was cancelled or re-armed after the
		// timer expired but before this goroutine ran.
		r.mu.Lock()
		cur, ok := r.entries[k]
		if !ok || cur.gen != gen {
			r.mu.Unlock()
			return
		}
		delete(r.entries, k)
		telemetry.SetArmedTimers(len(r.entries))
		r.mu.Unlock()
		fn()
	})
	r.entries[k] = e
	telemetry.SetArmedTimers(len(r.entries))
}

// Cancel stops the timer for (slotID, kind). Returns true if a live timer
// was removed.
func (r *Registry) Cancel(slotID int64, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{slotID, kind}
	e, ok := r.entries[k]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(r.entries, k)
	telemetry.SetArmedTimers(len(r.entries))
	return true
}

// CancelAll stops every timer armed for the slot.
func (r *Registry) CancelAll(slotID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		if k.slotID == slotID {
			e.t.Stop()
			delete(r.entries, k)
		}
	}
	telemetry.SetArmedTimers(len(r.entries))
}

// Len returns the number of currently armed timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Armed reports whether a timer is armed for (slotID, kind).
func (r *Registry) Armed(slotID int64, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key{slotID, kind}]
	return ok
}

// String describes the registry for debug logging.
func (r *Registry) String() string {
	return fmt.Sprintf("timer.Registry(%d armed)", r.Len())
}
