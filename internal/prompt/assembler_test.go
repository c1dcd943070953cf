package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/provider"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 5, EstimateTokens(strings.Repeat("x", 20)))
}

// msg returns a user message whose estimated cost is exactly tokens.
func msg(tokens int) provider.Message {
	return provider.Message{Role: provider.RoleUser, Content: strings.Repeat("x", tokens*4)}
}

func TestAssemble_AllFit(t *testing.T) {
	a := &Assembler{TokenBudget: 50}
	history := []provider.Message{msg(5), msg(6), msg(7), msg(9), msg(9)}

	got := a.Assemble("", history)
	assert.Equal(t, history, got)
}

func TestAssemble_TruncatesToNewestSuffix(t *testing.T) {
	a := &Assembler{TokenBudget: 25}
	system := strings.Repeat("s", 40) // cost 10, leaving 15
	history := []provider.Message{msg(5), msg(5), msg(5), msg(5), msg(5)}

	got := a.Assemble(system, history)
	require.Len(t, got, 3)
	assert.Equal(t, history[2:], got)
}

func TestAssemble_StopsAtFirstOverflow(t *testing.T) {
	a := &Assembler{TokenBudget: 10}
	// Newest two fit (4+4), then a big one blocks; the small oldest message
	// would fit but must not be skipped over.
	history := []provider.Message{msg(1), msg(20), msg(4), msg(4)}

	got := a.Assemble("", history)
	require.Len(t, got, 2)
	assert.Equal(t, history[2:], got)
}

func TestAssemble_SystemConsumesWholeBudget(t *testing.T) {
	a := &Assembler{TokenBudget: 25}
	system := strings.Repeat("s", 100) // cost 25

	got := a.Assemble(system, []provider.Message{msg(1), msg(1)})
	assert.Empty(t, got)
}

func TestAssemble_SystemExceedsBudgetClampsToZero(t *testing.T) {
	a := &Assembler{TokenBudget: 10}
	system := strings.Repeat("s", 100) // cost 25, over budget

	got := a.Assemble(system, []provider.Message{msg(2)})
	assert.Empty(t, got)
}

func TestAssemble_EmptyMessagesAreFree(t *testing.T) {
	a := &Assembler{TokenBudget: 7}
	empty := provider.Message{Role: provider.RoleAssistant, Content: ""}
	history := []provider.Message{msg(4), empty, msg(4), empty}

	got := a.Assemble("", history)
	require.Len(t, got, 3)
	assert.Equal(t, history[1:], got)
}

func TestAssemble_EmptyHistory(t *testing.T) {
	a := &Assembler{TokenBudget: 100}
	assert.Empty(t, a.Assemble("sys", nil))
}

func TestAssemble_PreservesRolesAndOrder(t *testing.T) {
	a := &Assembler{TokenBudget: 1000}
	history := []provider.Message{
		{Role: provider.RoleUser, Content: "first question"},
		{Role: provider.RoleAssistant, Content: "first answer"},
		{Role: provider.RoleUser, Content: "second question"},
	}

	got := a.Assemble("", history)
	require.Len(t, got, 3)
	assert.Equal(t, provider.RoleUser, got[0].Role)
	assert.Equal(t, "first question", got[0].Content)
	assert.Equal(t, provider.RoleUser, got[2].Role)
}
