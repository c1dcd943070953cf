package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExceededError is returned when the day's allowance is used up. RetryAt is
// the next reset boundary; waiting resolves it.
type ExceededError struct {
	RetryAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily prompt limit exhausted, resets at %s", e.RetryAt.Format(time.RFC3339))
}

// ZeroQuotaError is returned for tiers with no allowance at all. Same shape
// as ExceededError but never resolves without a tier change.
type ZeroQuotaError struct{}

func (e *ZeroQuotaError) Error() string {
	return "plan has no generation allowance"
}

// Decision is a successful admission.
type Decision struct {
	// Reset is true when admission materialized a fresh record because the
	// previous day's was exhausted and the boundary had passed.
	Reset bool
	// Record is today's ledger row, nil when no record has been
	// materialized yet (first request of an ordinary day).
	Record *Record
}

// Gate is the single source of truth for "may this user generate right
// now". Admission never consumes quota; consumption happens in Commit,
// after the generation has succeeded, so a request that fails downstream
// costs nothing.
type Gate struct {
	ledger Ledger
	reset  ResetPolicy
}

func NewGate(ledger Ledger, reset ResetPolicy) *Gate {
	return &Gate{ledger: ledger, reset: reset}
}

// Admit decides whether a generation request may proceed at the given
// instant. Ledger failures abort the request (fail closed): an uncertain
// ledger state never admits.
func (g *Gate) Admit(ctx context.Context, userID uuid.UUID, ceiling int, now time.Time) (*Decision, error) {
	today := BucketDate(now)

	rec, err := g.ledger.Get(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("reading quota ledger: %w", err)
	}

	reset := false
	if rec == nil {
		yesterday, err := g.ledger.Get(ctx, userID, today.AddDate(0, 0, -1))
		if err != nil {
			return nil, fmt.Errorf("reading quota ledger: %w", err)
		}
		if yesterday != nil && yesterday.Exhausted() {
			if !g.reset.Passed(now) {
				// Exhaustion carries over until the boundary: the new UTC
				// bucket alone does not grant a fresh allowance.
				return nil, &ExceededError{RetryAt: g.reset.Next(now)}
			}
			// Lazy reset on first touch after the boundary; no background
			// sweep exists.
			rec = &Record{
				ID:          uuid.New(),
				UserID:      userID,
				BucketDate:  today,
				PromptCount: 0,
				DailyQuota:  ceiling,
				CreatedAt:   now.UTC(),
				UpdatedAt:   now.UTC(),
			}
			if err := g.ledger.Create(ctx, rec); err != nil {
				return nil, fmt.Errorf("materializing reset record: %w", err)
			}
			reset = true
		}
	}

	// The ceiling in effect: captured from the record when one exists, so a
	// mid-day tier change cannot retroactively unlock an exhausted day.
	effective := ceiling
	if rec != nil {
		effective = rec.DailyQuota
	}
	if effective == 0 {
		return nil, &ZeroQuotaError{}
	}

	if rec != nil {
		if rec.ExhaustedAt != nil {
			// Hard stop, no silent reset: exhaustion was recorded under the
			// ceiling current at the time.
			return nil, &ExceededError{RetryAt: g.reset.Next(now)}
		}
		if rec.PromptCount >= rec.DailyQuota {
			if err := g.ledger.MarkExhausted(ctx, userID, today, now); err != nil {
				return nil, fmt.Errorf("marking quota exhausted: %w", err)
			}
			return nil, &ExceededError{RetryAt: g.reset.Next(now)}
		}
	}

	return &Decision{Reset: reset, Record: rec}, nil
}

// Commit durably consumes one prompt after a successful generation. The
// record is re-read and incremented in one atomic ledger operation rather
// than reusing the admission-time snapshot, so concurrent requests cannot
// lose an increment.
func (g *Gate) Commit(ctx context.Context, userID uuid.UUID, ceiling int, now time.Time) (*Record, error) {
	rec, err := g.ledger.Increment(ctx, userID, BucketDate(now), ceiling, now)
	if err != nil {
		return nil, fmt.Errorf("committing quota: %w", err)
	}
	return rec, nil
}

// Status reports current usage for API display. An absent record reads as
// zero used against the caller's current ceiling.
func (g *Gate) Status(ctx context.Context, userID uuid.UUID, ceiling int, now time.Time) (*Status, error) {
	rec, err := g.ledger.Get(ctx, userID, BucketDate(now))
	if err != nil {
		return nil, fmt.Errorf("reading quota ledger: %w", err)
	}

	st := &Status{
		DailyQuota: ceiling,
		ResetsAt:   g.reset.Next(now),
	}
	if rec != nil {
		st.PromptCount = rec.PromptCount
		st.DailyQuota = rec.DailyQuota
		st.ExhaustedAt = rec.ExhaustedAt
	}
	return st, nil
}
