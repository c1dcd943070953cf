package chats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines chat and message persistence.
type Repository interface {
	Create(ctx context.Context, chat *Chat) error
	GetByID(ctx context.Context, id uuid.UUID) (*Chat, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Chat, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	UpdateVisibility(ctx context.Context, id uuid.UUID, visibility Visibility) error
	Delete(ctx context.Context, id uuid.UUID) error

	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error)
	LatestMessage(ctx context.Context, chatID uuid.UUID) (*Message, error)
}

// PostgresRepository implements Repository on pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, chat *Chat) error {
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if chat.Visibility == "" {
		chat.Visibility = VisibilityPrivate
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO chats (id, user_id, title, visibility)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		chat.ID, chat.UserID, chat.Title, chat.Visibility,
	).Scan(&chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Chat, error) {
	var c Chat
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, visibility, created_at, updated_at
		 FROM chats WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Visibility, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Chat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, visibility, created_at, updated_at
		 FROM chats
		 WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Visibility, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

func (r *PostgresRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chats WHERE user_id = $1`,
		userID,
	).Scan(&count)
	return count, err
}

func (r *PostgresRepository) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET title = $2, updated_at = now() WHERE id = $1`,
		id, title,
	)
	if err != nil {
		return fmt.Errorf("updating chat title: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateVisibility(ctx context.Context, id uuid.UUID, visibility Visibility) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET visibility = $2, updated_at = now() WHERE id = $1`,
		id, visibility,
	)
	if err != nil {
		return fmt.Errorf("updating chat visibility: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat not found")
	}
	return nil
}

func (r *PostgresRepository) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	parts, err := marshalParts(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshaling message parts: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, chat_id, role, parts)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		msg.ID, msg.ChatID, msg.Role, parts,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = r.pool.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, msg.ChatID)
	if err != nil {
		return fmt.Errorf("touching chat: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, role, parts, created_at
		 FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Parts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) LatestMessage(ctx context.Context, chatID uuid.UUID) (*Message, error) {
	var m Message
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_id, role, parts, created_at
		 FROM messages
		 WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		chatID,
	).Scan(&m.ID, &m.ChatID, &m.Role, &m.Parts, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest message: %w", err)
	}
	return &m, nil
}
