package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name   string
	models []ModelInfo
	events []Event
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) Models() []ModelInfo { return s.models }

func (s *stubProvider) Stream(_ context.Context, _ *Request) (<-chan Event, error) {
	ch := make(chan Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *stubProvider) Complete(ctx context.Context, req *Request) (string, error) {
	ch, err := s.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return collect(ctx, ch)
}

func TestRegistry_Lookup(t *testing.T) {
	p := &stubProvider{name: "stub", models: []ModelInfo{{ID: "stub/small", Upstream: "small-v1"}}}
	reg := NewRegistry(p)

	got, info, err := reg.Lookup("stub/small")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, "small-v1", info.Upstream)
	assert.Equal(t, "stub", info.Provider)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRegistry_DuplicateKeepsFirst(t *testing.T) {
	first := &stubProvider{name: "first", models: []ModelInfo{{ID: "shared/model"}}}
	second := &stubProvider{name: "second", models: []ModelInfo{{ID: "shared/model"}}}
	reg := NewRegistry(first, second)

	got, info, err := reg.Lookup("shared/model")
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, "first", info.Provider)
	assert.Len(t, reg.Models(), 1)
}

func TestRegistry_ModelsSorted(t *testing.T) {
	p := &stubProvider{name: "stub", models: []ModelInfo{{ID: "b"}, {ID: "a"}, {ID: "c"}}}
	reg := NewRegistry(p)

	models := reg.Models()
	require.Len(t, models, 3)
	assert.Equal(t, "a", models[0].ID)
	assert.Equal(t, "b", models[1].ID)
	assert.Equal(t, "c", models[2].ID)
}

func TestCollect_JoinsDeltas(t *testing.T) {
	p := &stubProvider{events: []Event{
		{Type: EventTextDelta, Text: "Hello"},
		{Type: EventTextDelta, Text: ", world"},
		{Type: EventDone, Usage: &Usage{OutputTokens: 2}},
	}}

	out, err := p.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out)
}

func TestCollect_PropagatesError(t *testing.T) {
	wantErr := errors.New("upstream exploded")
	p := &stubProvider{events: []Event{
		{Type: EventTextDelta, Text: "partial"},
		{Type: EventError, Err: wantErr},
	}}

	_, err := p.Complete(context.Background(), &Request{})
	assert.ErrorIs(t, err, wantErr)
}
