package reactive

import (
	"sync"
	"time"
)

// slidingWindow counts dispatch passes of one cell within a time window.
// Exceeding the window only produces a warning; passes are never throttled.
type slidingWindow struct {
	events     []time.Time
	windowSize time.Duration
	maxEvents  int

	// exceeded is set while the window is full so the warning is logged once
	// per burst.
	exceeded bool

	mu sync.Mutex
}

func newSlidingWindow(windowSize time.Duration, maxEvents int) *slidingWindow {
	return &slidingWindow{
		windowSize: windowSize,
		maxEvents:  maxEvents,
	}
}

// record adds a pass at now. It returns true only for the first pass of a
// burst that goes over the limit.
func (w *slidingWindow) record(now time.Time) bool {
	if w.maxEvents == 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.windowSize)
	valid := 0
	for _, t := range w.events {
		if t.After(cutoff) {
			w.events[valid] = t
			valid++
		}
	}
	w.events = w.events[:valid]

	if len(w.events) < w.maxEvents {
		w.events = append(w.events, now)
		w.exceeded = false
		return false
	}
	if w.exceeded {
		return false
	}
	w.exceeded = true
	return true
}

// count returns the number of passes within the window ending at now.
func (w *slidingWindow) count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.windowSize)
	n := 0
	for _, t := range w.events {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
