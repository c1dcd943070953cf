// Package stream gives each generation a resumable event stream: output is
// teed through a transport so a client that drops mid-generation can
// reattach and see the rest without duplication.
package stream

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type EventType string

const (
	// EventDelta carries one incremental chunk of assistant text.
	EventDelta EventType = "delta"
	// EventError terminates the stream after a generation failure.
	EventError EventType = "error"
	// EventDone terminates the stream after a successful generation.
	EventDone EventType = "done"
)

// Event is one chunk on a generation stream. Seq is assigned by the
// transport on publish, strictly increasing within a stream, and lets an
// attachment switch from replayed to live events without duplicates.
type Event struct {
	Seq  int64     `json:"seq"`
	Type EventType `json:"type"`
	Data string    `json:"data,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// ErrConcluded is returned by Attach when the stream has already finished
// and its buffer is gone.
var ErrConcluded = errors.New("stream concluded")

// Transport carries a generation's events from the producing goroutine to
// any number of attached clients, across process restarts.
type Transport interface {
	// Open marks the stream as in flight. Attach refuses a stream that was
	// never opened, or whose open marker has lapsed after a crash.
	Open(ctx context.Context, streamID uuid.UUID) error

	// Publish appends an event to the stream, assigning its sequence
	// number, and fans it out to live attachments.
	Publish(ctx context.Context, streamID uuid.UUID, ev Event) error

	// Conclude marks the stream finished. Later Attach calls return
	// ErrConcluded. Publish after Conclude is undefined.
	Conclude(ctx context.Context, streamID uuid.UUID) error

	// Attach returns a channel that replays everything published so far and
	// then follows the stream live, closing after a terminal event.
	Attach(ctx context.Context, streamID uuid.UUID) (<-chan Event, error)
}
