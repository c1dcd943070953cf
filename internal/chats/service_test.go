package chats

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/provider"
)

type fakeRepo struct {
	Repository
	mu     sync.Mutex
	titles map[uuid.UUID]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{titles: make(map[uuid.UUID]string)}
}

func (f *fakeRepo) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[id] = title
	return nil
}

func (f *fakeRepo) title(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titles[id]
}

type stubTitler struct {
	out string
	err error
}

func (s *stubTitler) Name() string                 { return "stub" }
func (s *stubTitler) Models() []provider.ModelInfo { return nil }

func (s *stubTitler) Stream(_ context.Context, _ *provider.Request) (<-chan provider.Event, error) {
	return nil, errors.New("not implemented")
}

func (s *stubTitler) Complete(_ context.Context, _ *provider.Request) (string, error) {
	return s.out, s.err
}

func TestGenerateTitle_UsesModelOutput(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &stubTitler{out: `"Planning a trip to Lisbon"`}, "fast-model")
	chatID := uuid.New()

	svc.GenerateTitle(context.Background(), chatID, "help me plan a week in Lisbon in October")
	assert.Equal(t, "Planning a trip to Lisbon", repo.title(chatID))
}

func TestGenerateTitle_FallsBackToTruncatedMessage(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &stubTitler{err: errors.New("upstream down")}, "fast-model")
	chatID := uuid.New()

	long := strings.Repeat("lisbon ", 30)
	svc.GenerateTitle(context.Background(), chatID, long)

	got := repo.title(chatID)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 80)
}

func TestGenerateTitle_NoTitler(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, "")
	chatID := uuid.New()

	svc.GenerateTitle(context.Background(), chatID, "short question")
	assert.Equal(t, "short question", repo.title(chatID))
}

func TestMessageText_JoinsTextPartsInOrder(t *testing.T) {
	m := &Message{Parts: []Part{
		{Type: PartText, Text: "hello "},
		{Type: PartAttachment, URL: "https://example.com/a.png", ContentType: "image/png"},
		{Type: PartText, Text: "world"},
	}}
	assert.Equal(t, "hello world", m.Text())
}

func TestMessageText_NoTextParts(t *testing.T) {
	m := &Message{Parts: []Part{
		{Type: PartAttachment, URL: "https://example.com/a.pdf", ContentType: "application/pdf"},
	}}
	assert.Equal(t, "", m.Text())
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "plain", truncateTitle("plain"))
	assert.Equal(t, "quoted", truncateTitle(`"quoted"`))
	assert.Equal(t, "two lines", truncateTitle("two\nlines"))
	assert.LessOrEqual(t, len(truncateTitle(strings.Repeat("a", 200))), 80)
	assert.Equal(t, "", truncateTitle("   "))
}

func TestTruncateTitle_MultiByteBoundary(t *testing.T) {
	// 79 ASCII bytes followed by a 3-byte rune straddling the 80-byte limit.
	got := truncateTitle(strings.Repeat("a", 79) + "日本語")
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 80)
	assert.Equal(t, strings.Repeat("a", 79), got)

	// An all-multibyte title stays valid too.
	got = truncateTitle(strings.Repeat("界", 40))
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 80)
}
