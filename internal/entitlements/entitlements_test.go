package entitlements

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDailyQuota(t *testing.T) {
	assert.Equal(t, 20, DailyQuota(PlanGuest))
	assert.Equal(t, 100, DailyQuota(PlanRegular))
}

func TestUnknownPlanFallsBackToGuest(t *testing.T) {
	assert.Equal(t, DailyQuota(PlanGuest), DailyQuota(Plan("enterprise-trial")))
	assert.False(t, ModelAllowed(Plan("bogus"), "anthropic/claude-sonnet"))
}

func TestModelAllowed(t *testing.T) {
	assert.True(t, ModelAllowed(PlanGuest, "deepseek/deepseek-chat-v3-0324:free"))
	assert.False(t, ModelAllowed(PlanGuest, "openai/gpt-4o"))

	// Regular plan has no model restriction.
	assert.True(t, ModelAllowed(PlanRegular, "openai/gpt-4o"))
	assert.True(t, ModelAllowed(PlanRegular, "anything"))
}
