package events

import (
	"time"

	"github.com/google/uuid"
)

// Stream names.
const (
	StreamEvents = "PARLEY_EVENTS"
)

// Subject constants.
const (
	SubjectGenerationCompleted = "parley.events.generation.completed"
	SubjectGenerationFailed    = "parley.events.generation.failed"
	SubjectQuotaDenied         = "parley.events.quota.denied"
	SubjectStreamResumed       = "parley.events.stream.resumed"
)

// GenerationEvent is published when a generation finishes, successfully or
// not.
type GenerationEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	ChatID       uuid.UUID `json:"chat_id"`
	StreamID     uuid.UUID `json:"stream_id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// QuotaDeniedEvent is published when admission turns a request away.
type QuotaDeniedEvent struct {
	UserID    uuid.UUID  `json:"user_id"`
	Reason    string     `json:"reason"` // "exhausted" or "zero_quota"
	RetryAt   *time.Time `json:"retry_at,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// StreamResumedEvent is published when a client rejoins a generation.
type StreamResumedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	Result    string    `json:"result"` // "live", "replay", or "empty"
	Timestamp time.Time `json:"timestamp"`
}
