// Package prompt builds the model input for a generation: it selects how
// much conversation history fits a token budget and optionally rewrites the
// user's prompt through a fast model.
package prompt

import (
	"github.com/parley-ai/parley/internal/provider"
)

// EstimateTokens approximates the token cost of a string as ceil(len/4).
// The estimate is heuristic and only has to be consistent: the same string
// always costs the same, longer text never costs less.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Assembler selects the conversation history sent upstream.
type Assembler struct {
	// TokenBudget caps the combined estimated cost of the system prompt and
	// the selected history.
	TokenBudget int
}

// Assemble returns the contiguous newest suffix of history that fits the
// budget remaining after the system prompt, oldest first.
//
// Selection walks newest to oldest and stops at the first message that does
// not fit; older messages are never skipped over, so what the model sees is
// always an unbroken tail of the conversation. Messages with no text are
// carried along at zero cost.
func (a *Assembler) Assemble(system string, history []provider.Message) []provider.Message {
	remaining := a.TokenBudget - EstimateTokens(system)
	if remaining < 0 {
		remaining = 0
	}

	var selected []provider.Message
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content)
		if cost > remaining {
			break
		}
		remaining -= cost
		selected = append(selected, history[i])
	}

	// Selected newest-first; restore chronological order.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}
