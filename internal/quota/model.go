package quota

import (
	"time"

	"github.com/google/uuid"
)

// Record matches the prompt_usage table schema: one row per user per UTC
// calendar day. Rows are created lazily on first touch, mutated only by the
// Gate, and retained after the day ends for audit.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	BucketDate  time.Time  `json:"bucket_date"` // UTC midnight of the tracked day
	PromptCount int        `json:"prompt_count"`
	DailyQuota  int        `json:"daily_quota"` // ceiling captured at creation, not recomputed
	ExhaustedAt *time.Time `json:"exhausted_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Exhausted reports whether the record's allowance is used up, either by an
// explicit marker or by the count having reached the captured ceiling.
func (r *Record) Exhausted() bool {
	return r.ExhaustedAt != nil || r.PromptCount >= r.DailyQuota
}

// BucketDate truncates an instant to the UTC calendar day quota records are
// keyed by. The bucket is always the UTC date, not the user's local date.
func BucketDate(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Status is the API response showing current usage against the day's limit.
type Status struct {
	PromptCount int        `json:"prompt_count"`
	DailyQuota  int        `json:"daily_quota"`
	ExhaustedAt *time.Time `json:"exhausted_at,omitempty"`
	ResetsAt    time.Time  `json:"resets_at"`
}
