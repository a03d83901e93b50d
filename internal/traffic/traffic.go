// Package traffic keeps short sliding windows of request and upstream lookup
// outcomes. The health endpoint reads them to report degradation.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a recorded event.
type Outcome int

const (
	// Success is an API request answered below 500.
	Success Outcome = iota
	// Error is an API request answered with 5xx.
	Error
	// Denied is a request rejected by the rate limiter.
	Denied
	// LookupOK is a remote weather call that returned data.
	LookupOK
	// LookupFailed is a remote weather call that failed (served stale or as a failure snapshot).
	LookupFailed

	numOutcomes
)

// maxAge bounds how long timestamps are retained regardless of query window.
const maxAge = 5 * time.Minute

var defaultTracker = NewTracker(nil)

// Record adds an outcome to the process-wide tracker.
func Record(o Outcome) { defaultTracker.Record(o) }

// Count returns how many o outcomes the process-wide tracker saw within window.
func Count(o Outcome, window time.Duration) int { return defaultTracker.Count(o, window) }

// ErrorRate reports (errors, total) for API requests within window; denials excluded.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// LookupFailureRate reports (failed, total) remote weather calls within window.
func LookupFailureRate(window time.Duration) (failed, total int) {
	return defaultTracker.LookupFailureRate(window)
}

// Reset clears the process-wide tracker. For tests.
func Reset() { defaultTracker.Reset() }

// Tracker maintains per-outcome timestamp windows. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	times [numOutcomes][]time.Time
}

// NewTracker returns a Tracker using now as its clock (time.Now when nil).
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends the current time to o's window and prunes expired entries.
func (t *Tracker) Record(o Outcome) {
	if o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes not older than window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errors = countSince(t.times[Error], cutoff)
	return errors, errors + countSince(t.times[Success], cutoff)
}

func (t *Tracker) LookupFailureRate(window time.Duration) (failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failed = countSince(t.times[LookupFailed], cutoff)
	return failed, failed + countSince(t.times[LookupOK], cutoff)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Timestamps are appended in
// order, so the expired ones form a prefix. Caller holds t.mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	for o, times := range t.times {
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
