// Package poisonwindow tracks recent failures (unreadable request frames
// and workflow load/execution failures) and escalates the worker's log level once failures cluster, so a burst of
// poison requests is loud without the worker having to trip a breaker and
// refuse otherwise-healthy traffic.
package poisonwindow

import (
	"sync"
	"time"
)

// Window counts failures in a trailing period and reports whether the
// configured threshold has been reached.
type Window struct {
	mu        sync.Mutex
	threshold int
	period    time.Duration
	failures  []time.Time
}

// New creates a Window that escalates once threshold failures land within
// period of each other.
func New(threshold int, period time.Duration) *Window {
	return &Window{threshold: threshold, period: period}
}

// RecordFailure registers one failure at the current time and reports
// whether the window is now escalated (Warn should become Error).
func (w *Window) RecordFailure(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.period)
	kept := w.failures[:0]
	for _, t := range w.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	w.failures = kept

	return len(w.failures) >= w.threshold
}

// RecordSuccess clears the window: a clean run resets the escalation state
// so a single historical burst doesn't keep the worker permanently loud.
func (w *Window) RecordSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = w.failures[:0]
}

// Escalated reports the current escalation state without recording
// anything.
func (w *Window) Escalated(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.period)
	count := 0
	for _, t := range w.failures {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= w.threshold
}
