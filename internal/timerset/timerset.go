// Package timerset implements the named periodic task set the transport
// adapter drives from its bounded consume wait. Timer firing is the only
// mechanism that advances periodic work (e.g. publishing a manifest) in the
// single-threaded engine loop; nothing here starts its own goroutine.
package timerset

import (
	"fmt"

	"github.com/snarg/pi/internal/clock"
)

// Callback is a timer's body. An error returned here is fatal: the caller
// (the engine's consume loop) is expected to treat it the same as any other
// unrecoverable error and stop the process.
type Callback func() error

type timer struct {
	name     string
	interval int64
	lastRun  int64
	callback Callback
}

func (t *timer) due(now int64) bool {
	return t.lastRun+t.interval <= now
}

// Set is a named collection of periodic timers, checked cooperatively via
// Tick rather than on their own goroutines.
type Set struct {
	clock  clock.Clock
	timers map[string]*timer
}

// New returns an empty timer set bound to clock for its notion of now.
func New(c clock.Clock) *Set {
	return &Set{clock: c, timers: make(map[string]*timer)}
}

// Add registers a timer under name, due every interval seconds starting
// interval seconds from now. A timer already registered under name is
// replaced.
func (s *Set) Add(name string, interval int64, callback Callback) {
	s.timers[name] = &timer{
		name:     name,
		interval: interval,
		lastRun:  s.clock.Now(),
		callback: callback,
	}
}

// Delete removes the named timer. Safe to call even if it does not exist.
func (s *Set) Delete(name string) {
	delete(s.timers, name)
}

// Tick runs every due timer's callback once. It iterates a snapshot of the
// timer set taken at the start of the call, so a callback that adds or
// deletes timers (including deleting or replacing itself) does not corrupt
// the iteration or skip/repeat other timers. A timer's next firing is
// scheduled from the moment its callback returned, not from its intended
// slot, so a slow callback delays its own next run rather than firing
// back-to-back to catch up.
func (s *Set) Tick() error {
	snapshot := make([]*timer, 0, len(s.timers))
	for _, t := range s.timers {
		snapshot = append(snapshot, t)
	}

	now := s.clock.Now()
	for _, t := range snapshot {
		if _, stillTracked := s.timers[t.name]; !stillTracked {
			continue
		}
		if !t.due(now) {
			continue
		}
		if err := t.callback(); err != nil {
			return fmt.Errorf("timer %q: %w", t.name, err)
		}
		t.lastRun = s.clock.Now()
	}
	return nil
}
