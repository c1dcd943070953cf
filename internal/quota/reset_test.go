package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The default policy resets at 05:30 in UTC+05:30, which lands exactly on
// UTC midnight.

func TestResetPolicy_NextBeforeBoundary(t *testing.T) {
	p := DefaultResetPolicy
	now := time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), p.Next(now))
}

func TestResetPolicy_NextAtBoundary(t *testing.T) {
	p := DefaultResetPolicy
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), p.Next(now))
}

func TestResetPolicy_NextAfterBoundary(t *testing.T) {
	p := DefaultResetPolicy
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), p.Next(now))
}

func TestResetPolicy_PassedInclusive(t *testing.T) {
	p := DefaultResetPolicy
	boundary := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.False(t, p.Passed(boundary.Add(-time.Nanosecond)))
	assert.True(t, p.Passed(boundary))
	assert.True(t, p.Passed(boundary.Add(time.Hour)))
}

func TestResetPolicy_ZeroOffsetAfternoonReset(t *testing.T) {
	p := ResetPolicy{Offset: 0, Hour: 14, Minute: 0}
	before := time.Date(2025, 6, 1, 13, 59, 0, 0, time.UTC)
	after := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC), p.Next(before))
	assert.Equal(t, time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC), p.Next(after))
	assert.False(t, p.Passed(before))
	assert.True(t, p.Passed(after))
}

func TestResetPolicy_NonUTCInputNormalized(t *testing.T) {
	p := DefaultResetPolicy
	loc := time.FixedZone("UTC-7", -7*3600)
	// 17:00 UTC-7 is midnight UTC, on the boundary.
	now := time.Date(2025, 3, 9, 17, 0, 0, 0, loc)
	assert.True(t, p.Passed(now))
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), p.Next(now))
}
