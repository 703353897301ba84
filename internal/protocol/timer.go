package protocol

import (
	"sync"
	"time"
)

type timerTag string

const (
	// tagAction is the single per-state timeout; arming it supersedes any
	// previously armed action timer.
	tagAction timerTag = "action"
	// tagReclaim re-broadcasts a mastership claim at half the normal
	// timeout, so contenders stay informed under message loss.
	tagReclaim timerTag = "reclaim"
)

type timerEvent struct {
	tag timerTag
	gen uint64
}

// timerSet owns the protocol's single-shot timers. Expiries are delivered
// as events on a channel so the protocol loop stays the only place state
// changes; a generation counter lets the loop discard expiries from timers
// that were superseded or cancelled after firing.
type timerSet struct {
	mu     sync.Mutex
	ch     chan timerEvent
	timers map[timerTag]*time.Timer
	gens   map[timerTag]uint64
}

func newTimerSet() *timerSet {
	return &timerSet{
		ch:     make(chan timerEvent, 8),
		timers: make(map[timerTag]*time.Timer),
		gens:   make(map[timerTag]uint64),
	}
}

func (ts *timerSet) C() <-chan timerEvent { return ts.ch }

// Arm schedules a single-shot timer for tag, superseding any previous
// timer armed under the same tag.
func (ts *timerSet) Arm(tag timerTag, d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if old, ok := ts.timers[tag]; ok {
		old.Stop()
	}
	ts.gens[tag]++
	gen := ts.gens[tag]
	ts.timers[tag] = time.AfterFunc(d, func() {
		select {
		case ts.ch <- timerEvent{tag: tag, gen: gen}:
		default:
		}
	})
}

func (ts *timerSet) Cancel(tag timerTag) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[tag]; ok {
		t.Stop()
		delete(ts.timers, tag)
	}
	ts.gens[tag]++
}

func (ts *timerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for tag, t := range ts.timers {
		t.Stop()
		delete(ts.timers, tag)
		ts.gens[tag]++
	}
}

// live reports whether an expiry belongs to the currently armed generation
// of its tag.
func (ts *timerSet) live(ev timerEvent) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.gens[ev.tag] == ev.gen
}
