// Package provider normalizes the upstream LLM APIs behind one interface.
// Each adapter (anthropic.go, openai.go) converts its vendor's streaming
// response into the unified Event sequence the orchestrator consumes.
package provider

import (
	"context"
	"errors"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history, already flattened to text.
type Message struct {
	Role    Role
	Content string
}

// ModelInfo describes one model a provider serves. ID is the public
// identifier clients request; Upstream is the vendor's own model name.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Upstream string `json:"-"`
}

// Request is the unified generation request.
type Request struct {
	Model     string // vendor model name, resolved by the registry
	System    string
	Messages  []Message
	MaxTokens int
}

type EventType int

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta EventType = iota
	// EventDone ends the stream, with token usage when the vendor reports it.
	EventDone
	// EventError ends the stream with a failure.
	EventError
)

type Event struct {
	Type  EventType
	Text  string
	Usage *Usage
	Err   error
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is implemented by each vendor adapter.
type Provider interface {
	// Name returns the adapter identifier, e.g. "anthropic" or "openrouter".
	Name() string

	// Models returns the catalog entries this adapter serves.
	Models() []ModelInfo

	// Stream starts a generation. The channel emits events until EventDone
	// or EventError, then closes. The caller must drain it.
	Stream(ctx context.Context, req *Request) (<-chan Event, error)

	// Complete runs a one-shot generation and returns the full text.
	Complete(ctx context.Context, req *Request) (string, error)
}

// collect drains a stream into a single string, for Complete
// implementations built on Stream.
func collect(ctx context.Context, ch <-chan Event) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			switch ev.Type {
			case EventTextDelta:
				sb.WriteString(ev.Text)
			case EventError:
				return "", ev.Err
			case EventDone:
				// Keep draining until close so the producer goroutine exits.
			}
		}
	}
}

var ErrUnknownModel = errors.New("unknown model")
