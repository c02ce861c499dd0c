// Package timestamp handles epoch-millisecond timestamps, the only time
// format that appears on the relay's wire protocol.
//
// A value of 0 means "not set".
package timestamp

import (
	"sync"
	"time"
)

// Clock supplies the current time. Components take a Clock so tests can pin it.
type Clock func() time.Time

// System is the wall clock.
var System Clock = time.Now

// NowMs returns the clock's current time in Unix milliseconds.
func (c Clock) NowMs() int64 {
	if c == nil {
		return Now()
	}
	return ToUnixMs(c())
}

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds. The zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time. 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders ms as RFC3339 with milliseconds, or "" when unset.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Between returns end-start. Returns 0 if either timestamp is unset.
func Between(start, end int64) time.Duration {
	if start == 0 || end == 0 {
		return 0
	}
	return time.Duration(end-start) * time.Millisecond
}

// Fixed returns a FixedClock pinned at t.
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// FixedClock is a manually advanced clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the pinned time.
func (f *FixedClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *FixedClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set pins the clock to Unix milliseconds ms.
func (f *FixedClock) Set(ms int64) {
	f.mu.Lock()
	f.now = time.UnixMilli(ms)
	f.mu.Unlock()
}

// Clock returns f as a Clock.
func (f *FixedClock) Clock() Clock { return f.Now }
