package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Handle records that a generation stream was started for a chat. Rows are
// append-only; the newest one per chat is the resumption candidate.
type Handle struct {
	StreamID  uuid.UUID `json:"stream_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	CreatedAt time.Time `json:"created_at"`
}

type HandleRepo interface {
	Create(ctx context.Context, h *Handle) error
	LatestByChat(ctx context.Context, chatID uuid.UUID) (*Handle, error)
}

// PostgresHandleRepo implements HandleRepo on pgx.
type PostgresHandleRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresHandleRepo(pool *pgxpool.Pool) *PostgresHandleRepo {
	return &PostgresHandleRepo{pool: pool}
}

func (r *PostgresHandleRepo) Create(ctx context.Context, h *Handle) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO stream_ids (stream_id, chat_id)
		 VALUES ($1, $2)
		 RETURNING created_at`,
		h.StreamID, h.ChatID,
	).Scan(&h.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting stream handle: %w", err)
	}
	return nil
}

func (r *PostgresHandleRepo) LatestByChat(ctx context.Context, chatID uuid.UUID) (*Handle, error) {
	var h Handle
	err := r.pool.QueryRow(ctx,
		`SELECT stream_id, chat_id, created_at
		 FROM stream_ids
		 WHERE chat_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		chatID,
	).Scan(&h.StreamID, &h.ChatID, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest stream handle: %w", err)
	}
	return &h, nil
}
