package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/chats"
)

// MessageSource is the slice of the chat store resumption needs.
type MessageSource interface {
	LatestMessage(ctx context.Context, chatID uuid.UUID) (*chats.Message, error)
}

type ResumptionKind string

const (
	// ResumeLive attaches to a generation still in flight.
	ResumeLive ResumptionKind = "live"
	// ResumeReplay re-serves a generation that finished moments ago as a
	// single replay of the persisted assistant message.
	ResumeReplay ResumptionKind = "replay"
	// ResumeEmpty means there is nothing to resume.
	ResumeEmpty ResumptionKind = "empty"
)

// Resumption is the outcome of a resume attempt. Events is set for
// ResumeLive, Message for ResumeReplay.
type Resumption struct {
	Kind    ResumptionKind
	Events  <-chan Event
	Message *chats.Message
}

// Coordinator allocates stream handles for new generations and decides how
// a returning client rejoins a chat's most recent one.
type Coordinator struct {
	handles   HandleRepo
	transport Transport
	messages  MessageSource
	grace     time.Duration
}

func NewCoordinator(handles HandleRepo, transport Transport, messages MessageSource, grace time.Duration) *Coordinator {
	if grace <= 0 {
		grace = 15 * time.Second
	}
	return &Coordinator{handles: handles, transport: transport, messages: messages, grace: grace}
}

// Begin allocates and records a stream handle. It runs before any model
// output exists, so a resume issued moments later can already find the
// stream. The transport is opened before the handle becomes visible: a
// handle without an open stream would read as already concluded.
func (c *Coordinator) Begin(ctx context.Context, chatID uuid.UUID) (*Handle, error) {
	h := &Handle{StreamID: uuid.New(), ChatID: chatID}
	if err := c.transport.Open(ctx, h.StreamID); err != nil {
		return nil, err
	}
	if err := c.handles.Create(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Transport exposes the underlying transport for publishing.
func (c *Coordinator) Transport() Transport { return c.transport }

// Resume rejoins the chat's latest generation. A live stream wins; a
// generation that concluded within the grace window is served as a one-shot
// replay of the persisted assistant message; anything older is empty.
func (c *Coordinator) Resume(ctx context.Context, chatID uuid.UUID, now time.Time) (*Resumption, error) {
	h, err := c.handles.LatestByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("looking up latest stream: %w", err)
	}
	if h == nil {
		// A chat that never had a generation has nothing to resume.
		return &Resumption{Kind: ResumeEmpty}, nil
	}

	events, err := c.transport.Attach(ctx, h.StreamID)
	switch {
	case err == nil:
		return &Resumption{Kind: ResumeLive, Events: events}, nil
	case errors.Is(err, ErrConcluded):
		// Fall through to the replay check.
	default:
		return nil, fmt.Errorf("attaching to stream: %w", err)
	}

	msg, err := c.messages.LatestMessage(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("looking up latest message: %w", err)
	}
	if msg != nil && msg.Role == chats.RoleAssistant && now.Sub(msg.CreatedAt) <= c.grace {
		return &Resumption{Kind: ResumeReplay, Message: msg}, nil
	}

	return &Resumption{Kind: ResumeEmpty}, nil
}
