package quota

import "time"

// ResetPolicy describes the daily reset boundary: a fixed time-of-day in a
// fixed UTC offset, the same for every user regardless of browser or server
// timezone. The default (05:30 at +05:30) coincides with UTC midnight, so
// the boundary and the UTC bucket flip together; other offsets shift the
// boundary within the UTC day. The boundary is always derived from the
// policy and "now", never persisted, so stored and recomputed values cannot
// drift.
type ResetPolicy struct {
	Offset time.Duration // fixed UTC offset of the civil clock the boundary is read on
	Hour   int
	Minute int
}

// DefaultResetPolicy is 05:30 at UTC+05:30.
var DefaultResetPolicy = ResetPolicy{
	Offset: 5*time.Hour + 30*time.Minute,
	Hour:   5,
	Minute: 30,
}

// boundaryOfLocalDay returns the boundary instant (as UTC) within the
// offset-local day containing now.
func (p ResetPolicy) boundaryOfLocalDay(now time.Time) time.Time {
	local := now.UTC().Add(p.Offset)
	b := time.Date(local.Year(), local.Month(), local.Day(), p.Hour, p.Minute, 0, 0, time.UTC)
	return b.Add(-p.Offset)
}

// Next returns the first boundary instant strictly after now.
func (p ResetPolicy) Next(now time.Time) time.Time {
	b := p.boundaryOfLocalDay(now)
	if !b.After(now.UTC()) {
		b = b.AddDate(0, 0, 1)
	}
	return b
}

// Passed reports whether the boundary within now's offset-local day has
// already occurred. The comparison is inclusive: an Admit call at the exact
// boundary instant sees the reset.
func (p ResetPolicy) Passed(now time.Time) bool {
	return !now.UTC().Before(p.boundaryOfLocalDay(now))
}
