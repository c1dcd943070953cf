package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing domain events. A nil
// Publisher is valid and drops everything, so the API keeps working when
// NATS is not configured.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a Publisher. client may be nil.
func NewPublisher(client *Client) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{js: client.JetStream()}
}

// GenerationCompleted publishes a successful generation event.
func (p *Publisher) GenerationCompleted(ctx context.Context, ev GenerationEvent) {
	p.publish(ctx, SubjectGenerationCompleted, ev)
}

// GenerationFailed publishes a failed generation event.
func (p *Publisher) GenerationFailed(ctx context.Context, ev GenerationEvent) {
	p.publish(ctx, SubjectGenerationFailed, ev)
}

// QuotaDenied publishes a quota denial event.
func (p *Publisher) QuotaDenied(ctx context.Context, ev QuotaDeniedEvent) {
	p.publish(ctx, SubjectQuotaDenied, ev)
}

// StreamResumed publishes a stream resumption event.
func (p *Publisher) StreamResumed(ctx context.Context, ev StreamResumedEvent) {
	p.publish(ctx, SubjectStreamResumed, ev)
}

// publish is best-effort: a publish failure is logged, never surfaced, so
// event delivery problems cannot fail user requests.
func (p *Publisher) publish(ctx context.Context, subject string, data any) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshaling event", "subject", subject, "error", err)
		return
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		slog.Warn("publishing event", "subject", subject, "error", err)
	}
}
