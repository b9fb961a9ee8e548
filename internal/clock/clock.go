// internal/clock/clock.go
package clock

import (
	"sync"
	"time"
)

// Clock is the only source of time for the step functions.
// Real clocks carry a monotonic reading, so Sub() on two Now() values
// is safe against wall-clock jumps.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// UnixSeconds returns the wall-clock time of c as seconds since epoch.
// Times before the epoch or beyond uint32 report 0.
func UnixSeconds(c Clock) uint32 {
	s := c.Now().Unix()
	if s < 0 || s > int64(^uint32(0)) {
		return 0
	}
	return uint32(s)
}
