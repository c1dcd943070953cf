package chats

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat is one conversation owned by a single user.
type Chat struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type PartType string

const (
	PartText       PartType = "text"
	PartAttachment PartType = "attachment"
)

// Part is one ordered piece of a message body. Text parts carry the text;
// attachment parts carry a URL and content type.
type Part struct {
	Type        PartType `json:"type"`
	Text        string   `json:"text,omitempty"`
	URL         string   `json:"url,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
}

// Message is one turn in a chat. Parts keep their authored order.
type Message struct {
	ID        uuid.UUID `json:"id"`
	ChatID    uuid.UUID `json:"chat_id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Text joins the message's text parts in order, which is the form token
// estimation and the upstream request use.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

func marshalParts(parts []Part) ([]byte, error) {
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(parts)
}

type CreateChatRequest struct {
	Title      string     `json:"title" validate:"omitempty,max=200"`
	Visibility Visibility `json:"visibility" validate:"omitempty,oneof=private public"`
}

type UpdateChatRequest struct {
	Title      *string     `json:"title" validate:"omitempty,max=200"`
	Visibility *Visibility `json:"visibility" validate:"omitempty,oneof=private public"`
}

type ListChatsParams struct {
	Page     int
	PageSize int
}

func DefaultListParams() ListChatsParams {
	return ListChatsParams{Page: 1, PageSize: 20}
}
