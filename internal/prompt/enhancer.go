package prompt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/provider"
)

// ComposeSystem builds the system prompt from the base prompt and an
// optional per-user personality preamble.
func ComposeSystem(base, personality string) string {
	if personality == "" {
		return base
	}
	return personality + "\n\n" + base
}

const enhancerInstruction = `Rewrite the user's message into a clearer prompt and produce a tailored system prompt for answering it. Respond with JSON only, no prose: {"user_prompt": "...", "system_prompt": "..."}`

// Enhancer rewrites a raw user message through a fast model before the main
// generation. It is strictly best-effort: any failure, timeout, or
// malformed output falls back to the untouched input.
type Enhancer struct {
	Provider provider.Provider
	Model    string
	Timeout  time.Duration
}

type enhanced struct {
	UserPrompt   string `json:"user_prompt"`
	SystemPrompt string `json:"system_prompt"`
}

// Enhance returns the rewritten user prompt and system prompt, or the
// originals when enhancement is unavailable or fails.
func (e *Enhancer) Enhance(ctx context.Context, userPrompt, systemPrompt string) (string, string) {
	if e == nil || e.Provider == nil {
		return userPrompt, systemPrompt
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.Provider.Complete(ctx, &provider.Request{
		Model:  e.Model,
		System: enhancerInstruction,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: userPrompt},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		slog.Warn("prompt enhancement failed, using raw prompt", "error", err)
		return userPrompt, systemPrompt
	}

	var parsed enhanced
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		slog.Warn("prompt enhancement returned malformed output", "error", err)
		return userPrompt, systemPrompt
	}
	if parsed.UserPrompt == "" {
		return userPrompt, systemPrompt
	}
	if parsed.SystemPrompt == "" {
		parsed.SystemPrompt = systemPrompt
	}
	return parsed.UserPrompt, parsed.SystemPrompt
}

// extractJSON strips markdown fences some models wrap around JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
