package clock

import "time"

// Clock supplies the current instant. Quota reset and stream grace-window
// logic take a Clock instead of calling time.Now directly so boundary
// behavior can be tested without real time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Real returns a Clock backed by the system clock, normalized to UTC.
func Real() Clock { return realClock{} }

// Fixed is a Clock pinned to a settable instant, for tests.
type Fixed struct {
	Instant time.Time
}

func (f *Fixed) Now() time.Time { return f.Instant }

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.Instant = f.Instant.Add(d) }
