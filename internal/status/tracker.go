// internal/status/tracker.go
package status

import "time"

// Counters are the monotonic totals the tracker derives health from.
type Counters struct {
	Faults         uint64
	Measurements   uint64
	UploadFailures uint64
	Sampling       bool // reading interval > 0
}

// Tracker owns the health snapshot. It is driven from one goroutine:
// Observe after each step, Tick once per second.
type Tracker struct {
	snap       Snapshot
	last       Counters
	lastSample time.Time
	staleAfter time.Duration
}

// NewTracker builds a tracker that reports stale once no measurement has
// arrived for staleAfter. Zero disables the stale check.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Health:         HealthUnknown,
			LastErrorCode:  ErrorNone,
			SecondsInError: 0,
		},
		staleAfter: staleAfter,
	}
}

// SetStaleAfter changes the stale threshold, e.g. after a reading interval change.
func (t *Tracker) SetStaleAfter(d time.Duration) { t.staleAfter = d }

// Observe folds the latest counters into the snapshot.
// It returns true when the snapshot changed.
func (t *Tracker) Observe(c Counters, now time.Time) bool {
	before := t.snap

	switch {
	case c.Faults > t.last.Faults:
		t.snap.Health = HealthError
		t.snap.LastErrorCode = ErrorDevice

	case c.Measurements > t.last.Measurements:
		// Recovery / OK
		t.snap.Health = HealthOK
		t.snap.LastErrorCode = ErrorNone
		t.snap.SecondsInError = 0
		t.lastSample = now

	case !c.Sampling && t.snap.Health != HealthError:
		t.snap.Health = HealthDisabled
	}

	if c.UploadFailures > t.last.UploadFailures && t.snap.Health != HealthError {
		t.snap.LastErrorCode = ErrorUpload
	}

	if c.Sampling && t.snap.Health == HealthDisabled {
		t.snap.Health = HealthUnknown
	}

	t.last = c
	return t.snap != before
}

// Tick advances once per second. It returns true when the snapshot changed.
func (t *Tracker) Tick(now time.Time) bool {
	before := t.snap

	switch t.snap.Health {
	case HealthError:
		if t.snap.SecondsInError < MaxSecondsInError {
			t.snap.SecondsInError++
		}
	case HealthOK:
		if t.staleAfter > 0 && now.Sub(t.lastSample) > t.staleAfter {
			t.snap.Health = HealthStale
		}
	}

	return t.snap != before
}

func (t *Tracker) Snapshot() Snapshot { return t.snap }
