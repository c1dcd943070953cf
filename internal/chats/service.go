package chats

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/provider"
)

const titleInstruction = `Summarize the user's message as a short chat title. At most 80 characters, no quotes, no trailing punctuation. Respond with the title only.`

type Service struct {
	repo       Repository
	titler     provider.Provider
	titleModel string
}

// NewService wires the chat service. titler may be nil, in which case new
// chats keep a truncated first message as their title.
func NewService(repo Repository, titler provider.Provider, titleModel string) *Service {
	return &Service{repo: repo, titler: titler, titleModel: titleModel}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, req *CreateChatRequest) (*Chat, error) {
	chat := &Chat{
		ID:         uuid.New(),
		UserID:     userID,
		Title:      req.Title,
		Visibility: req.Visibility,
	}
	if chat.Title == "" {
		chat.Title = "New chat"
	}
	if err := s.repo.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Chat, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, params ListChatsParams) ([]*Chat, int64, error) {
	offset := (params.Page - 1) * params.PageSize

	chats, err := s.repo.ListByUser(ctx, userID, params.PageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return chats, count, nil
}

func (s *Service) Update(ctx context.Context, chat *Chat, req *UpdateChatRequest) (*Chat, error) {
	if req.Title != nil {
		if err := s.repo.UpdateTitle(ctx, chat.ID, *req.Title); err != nil {
			return nil, err
		}
		chat.Title = *req.Title
	}
	if req.Visibility != nil {
		if err := s.repo.UpdateVisibility(ctx, chat.ID, *req.Visibility); err != nil {
			return nil, err
		}
		chat.Visibility = *req.Visibility
	}
	return chat, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) Messages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	return s.repo.ListMessages(ctx, chatID)
}

func (s *Service) LatestMessage(ctx context.Context, chatID uuid.UUID) (*Message, error) {
	return s.repo.LatestMessage(ctx, chatID)
}

func (s *Service) AppendMessage(ctx context.Context, msg *Message) error {
	return s.repo.AppendMessage(ctx, msg)
}

// GenerateTitle names a fresh chat after its first user message, through
// the fast model. Best-effort: a failed call falls back to truncating the
// message itself.
func (s *Service) GenerateTitle(ctx context.Context, chatID uuid.UUID, firstMessage string) {
	title := truncateTitle(firstMessage)

	if s.titler != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		out, err := s.titler.Complete(ctx, &provider.Request{
			Model:  s.titleModel,
			System: titleInstruction,
			Messages: []provider.Message{
				{Role: provider.RoleUser, Content: firstMessage},
			},
			MaxTokens: 64,
		})
		if err != nil {
			slog.Warn("title generation failed, using truncated message", "chat_id", chatID, "error", err)
		} else if cleaned := truncateTitle(out); cleaned != "" {
			title = cleaned
		}
	}

	if title == "" {
		return
	}
	if err := s.repo.UpdateTitle(ctx, chatID, title); err != nil {
		slog.Error("saving generated title", "chat_id", chatID, "error", err)
	}
}

func truncateTitle(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		// Cut on a rune boundary so a multi-byte character straddling the
		// limit cannot leave invalid UTF-8 in the title.
		cut := 80
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}
