package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger is the persistence boundary for quota records. Increment must be
// atomic per (user, bucket date): concurrent commits may never lose an
// update, and that guarantee lives in the store's write path rather than in
// process-local locking, since requests can land on different processes.
type Ledger interface {
	Get(ctx context.Context, userID uuid.UUID, date time.Time) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	MarkExhausted(ctx context.Context, userID uuid.UUID, date, at time.Time) error
	// Increment adds one prompt to the day's record in a single atomic
	// read-increment-write, creating the record with the given ceiling if
	// absent, and stamps exhausted_at when the new count reaches the
	// record's captured quota. Returns the post-increment record.
	Increment(ctx context.Context, userID uuid.UUID, date time.Time, ceiling int, now time.Time) (*Record, error)
}

// Repository implements Ledger on the prompt_usage PostgreSQL table.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, userID uuid.UUID, date time.Time) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, bucket_date, prompt_count, daily_quota, exhausted_at, created_at, updated_at
		 FROM prompt_usage WHERE user_id = $1 AND bucket_date = $2`,
		userID, BucketDate(date),
	).Scan(&rec.ID, &rec.UserID, &rec.BucketDate, &rec.PromptCount, &rec.DailyQuota,
		&rec.ExhaustedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying prompt usage: %w", err)
	}
	return &rec, nil
}

func (r *Repository) Create(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO prompt_usage (id, user_id, bucket_date, prompt_count, daily_quota, exhausted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (user_id, bucket_date) DO NOTHING`,
		rec.ID, rec.UserID, BucketDate(rec.BucketDate), rec.PromptCount, rec.DailyQuota,
		rec.ExhaustedAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting prompt usage: %w", err)
	}
	return nil
}

func (r *Repository) MarkExhausted(ctx context.Context, userID uuid.UUID, date, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE prompt_usage
		 SET exhausted_at = COALESCE(exhausted_at, $3), updated_at = $3
		 WHERE user_id = $1 AND bucket_date = $2`,
		userID, BucketDate(date), at.UTC())
	if err != nil {
		return fmt.Errorf("marking prompt usage exhausted: %w", err)
	}
	return nil
}

// Increment is a single upsert so the read-increment-write cannot interleave
// with a concurrent commit for the same key. Postgres row-locks the
// conflicting row for the duration of the statement, which serializes
// commits per (user, day).
func (r *Repository) Increment(ctx context.Context, userID uuid.UUID, date time.Time, ceiling int, now time.Time) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx,
		`INSERT INTO prompt_usage (id, user_id, bucket_date, prompt_count, daily_quota, exhausted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, CASE WHEN 1 >= $4 THEN $5::timestamptz END, $5, $5)
		 ON CONFLICT (user_id, bucket_date) DO UPDATE
		 SET prompt_count = prompt_usage.prompt_count + 1,
		     exhausted_at = CASE
		       WHEN prompt_usage.exhausted_at IS NOT NULL THEN prompt_usage.exhausted_at
		       WHEN prompt_usage.prompt_count + 1 >= prompt_usage.daily_quota THEN $5::timestamptz
		     END,
		     updated_at = $5
		 RETURNING id, user_id, bucket_date, prompt_count, daily_quota, exhausted_at, created_at, updated_at`,
		uuid.New(), userID, BucketDate(date), ceiling, now.UTC(),
	).Scan(&rec.ID, &rec.UserID, &rec.BucketDate, &rec.PromptCount, &rec.DailyQuota,
		&rec.ExhaustedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("incrementing prompt usage: %w", err)
	}
	return &rec, nil
}
