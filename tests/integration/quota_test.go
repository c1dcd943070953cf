//go:build integration

package integration

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/internal/quota"
)

func TestQuotaAdmitCommitRoundTrip(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	dec, err := env.Gate.Admit(ctx, userID, 5, now)
	require.NoError(t, err)
	assert.False(t, dec.Reset)

	for i := 1; i <= 5; i++ {
		rec, err := env.Gate.Commit(ctx, userID, 5, now)
		require.NoError(t, err)
		assert.Equal(t, i, rec.PromptCount)
	}

	// Sixth admission is denied with the next boundary attached.
	_, err = env.Gate.Admit(ctx, userID, 5, now)
	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.True(t, exceeded.RetryAt.After(now))
}

func TestQuotaIncrementIsAtomicUnderConcurrency(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Ledger.Increment(ctx, userID, now, 100, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := env.Ledger.Get(ctx, userID, now)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, workers, rec.PromptCount)
	assert.Nil(t, rec.ExhaustedAt)
}

func TestQuotaExhaustionStampedAtCeiling(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	rec, err := env.Ledger.Increment(ctx, userID, now, 2, now)
	require.NoError(t, err)
	assert.Nil(t, rec.ExhaustedAt)

	rec, err = env.Ledger.Increment(ctx, userID, now, 2, now)
	require.NoError(t, err)
	require.NotNil(t, rec.ExhaustedAt)

	// Further increments keep the original exhaustion timestamp.
	stamped := *rec.ExhaustedAt
	rec, err = env.Ledger.Increment(ctx, userID, now, 2, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, rec.ExhaustedAt)
	assert.Equal(t, stamped, *rec.ExhaustedAt)
}

func TestQuotaCeilingCapturedAtCreation(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	_, err := env.Ledger.Increment(ctx, userID, now, 20, now)
	require.NoError(t, err)

	// A later commit with a higher ceiling does not rewrite the record.
	rec, err := env.Ledger.Increment(ctx, userID, now, 100, now)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.DailyQuota)
}

func TestQuotaStatusEndpoint(t *testing.T) {
	env := SetupTestEnv(t)
	token := TokenFor(t, env, uuid.New(), "regular")

	resp := DoRequest(t, env, "GET", "/api/v1/quota", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := ParseResponse(t, resp)["data"].(map[string]any)
	assert.Equal(t, float64(0), data["prompt_count"])
	assert.Equal(t, float64(100), data["daily_quota"])

	resetsAt, err := time.Parse(time.RFC3339, data["resets_at"].(string))
	require.NoError(t, err)
	assert.True(t, resetsAt.After(time.Now()))
}

func TestQuotaCarryOverDenialClearsAtBoundary(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	gate := env.Gate

	// Exhaust yesterday just before the boundary.
	boundary := quota.DefaultResetPolicy.Next(time.Now().UTC())
	yesterday := boundary.Add(-time.Hour)
	for i := 0; i < 2; i++ {
		_, err := gate.Commit(ctx, userID, 2, yesterday)
		require.NoError(t, err)
	}

	// Still before the boundary: the exhaustion carries over.
	_, err := gate.Admit(ctx, userID, 2, boundary.Add(-time.Minute))
	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, boundary, exceeded.RetryAt)

	// At the boundary a fresh record is created and admission succeeds.
	dec, err := gate.Admit(ctx, userID, 2, boundary)
	require.NoError(t, err)
	assert.True(t, dec.Reset)

	rec, err := env.Ledger.Get(ctx, userID, boundary)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.PromptCount)
}

func TestSendMessageDeniedWithRetryAfter(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	token := TokenFor(t, env, userID, "guest")
	chatID := CreateChat(t, env, token, "Out of budget")

	now := time.Now().UTC()
	for i := 0; i < 20; i++ {
		_, err := env.Gate.Commit(ctx, userID, 20, now)
		require.NoError(t, err)
	}

	resp := DoRequest(t, env, "POST", "/api/v1/chats/"+chatID+"/messages", map[string]any{
		"model": "deepseek/deepseek-chat-v3-0324:free",
		"parts": []map[string]string{{"type": "text", "text": "one more?"}},
	}, token)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	body := ParseResponse(t, resp)
	assert.NotEmpty(t, body["retry_at"])

	// The denied request left no trace in the chat.
	resp = DoRequest(t, env, "GET", "/api/v1/chats/"+chatID+"/messages", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := ParseResponse(t, resp)["data"].([]any)
	assert.Empty(t, msgs)
}
