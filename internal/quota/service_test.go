package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu   sync.Mutex
	recs map[string]*Record
	err  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{recs: make(map[string]*Record)}
}

func ledgerKey(userID uuid.UUID, date time.Time) string {
	return userID.String() + "|" + date.Format("2006-01-02")
}

func (f *fakeLedger) Get(_ context.Context, userID uuid.UUID, date time.Time) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.recs[ledgerKey(userID, date)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeLedger) Create(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	key := ledgerKey(rec.UserID, rec.BucketDate)
	if _, ok := f.recs[key]; ok {
		return nil
	}
	cp := *rec
	f.recs[key] = &cp
	return nil
}

func (f *fakeLedger) MarkExhausted(_ context.Context, userID uuid.UUID, date, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	rec, ok := f.recs[ledgerKey(userID, date)]
	if !ok {
		return nil
	}
	if rec.ExhaustedAt == nil {
		ts := now.UTC()
		rec.ExhaustedAt = &ts
	}
	rec.UpdatedAt = now.UTC()
	return nil
}

func (f *fakeLedger) Increment(_ context.Context, userID uuid.UUID, date time.Time, ceiling int, now time.Time) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := ledgerKey(userID, date)
	rec, ok := f.recs[key]
	if !ok {
		rec = &Record{
			ID:         uuid.New(),
			UserID:     userID,
			BucketDate: date,
			DailyQuota: ceiling,
			CreatedAt:  now.UTC(),
		}
		f.recs[key] = rec
	}
	rec.PromptCount++
	if rec.ExhaustedAt == nil && rec.PromptCount >= rec.DailyQuota {
		ts := now.UTC()
		rec.ExhaustedAt = &ts
	}
	rec.UpdatedAt = now.UTC()
	cp := *rec
	return &cp, nil
}

func (f *fakeLedger) put(rec *Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs[ledgerKey(rec.UserID, rec.BucketDate)] = &cp
}

var noon = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestGate_AdmitFirstRequestOfDay(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()

	dec, err := gate.Admit(context.Background(), userID, 100, noon)
	require.NoError(t, err)
	assert.False(t, dec.Reset)
	assert.Nil(t, dec.Record)
}

func TestGate_AdmitUnderLimit(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 42, DailyQuota: 100})

	dec, err := gate.Admit(context.Background(), userID, 100, noon)
	require.NoError(t, err)
	require.NotNil(t, dec.Record)
	assert.Equal(t, 42, dec.Record.PromptCount)
}

func TestGate_AdmitAtLimitMarksExhausted(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 100, DailyQuota: 100})

	_, err := gate.Admit(context.Background(), userID, 100, noon)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), exceeded.RetryAt)

	rec, err := ledger.Get(context.Background(), userID, BucketDate(noon))
	require.NoError(t, err)
	assert.NotNil(t, rec.ExhaustedAt)
}

func TestGate_AdmitAlreadyExhausted(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ts := noon.Add(-time.Hour)
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 100, DailyQuota: 100, ExhaustedAt: &ts})

	_, err := gate.Admit(context.Background(), userID, 100, noon)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
}

func TestGate_AdmitZeroCeiling(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)

	_, err := gate.Admit(context.Background(), uuid.New(), 0, noon)
	var zero *ZeroQuotaError
	require.ErrorAs(t, err, &zero)
}

func TestGate_AdmitZeroQuotaRecord(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 0, DailyQuota: 0})

	// A zero allowance never resolves at a boundary, regardless of count.
	_, err := gate.Admit(context.Background(), userID, 50, noon)
	var zero *ZeroQuotaError
	require.ErrorAs(t, err, &zero)
}

func TestGate_CarryOverDenialBeforeBoundary(t *testing.T) {
	ledger := newFakeLedger()
	// Reset at 14:00 UTC, so noon is past the UTC date flip but before the
	// boundary.
	policy := ResetPolicy{Offset: 0, Hour: 14, Minute: 0}
	gate := NewGate(ledger, policy)
	userID := uuid.New()

	yesterday := BucketDate(noon).AddDate(0, 0, -1)
	ts := yesterday.Add(20 * time.Hour)
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: yesterday, PromptCount: 100, DailyQuota: 100, ExhaustedAt: &ts})

	_, err := gate.Admit(context.Background(), userID, 100, noon)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), exceeded.RetryAt)
}

func TestGate_ResetAfterBoundary(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()

	yesterday := BucketDate(noon).AddDate(0, 0, -1)
	ts := yesterday.Add(20 * time.Hour)
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: yesterday, PromptCount: 100, DailyQuota: 100, ExhaustedAt: &ts})

	dec, err := gate.Admit(context.Background(), userID, 100, noon)
	require.NoError(t, err)
	assert.True(t, dec.Reset)
	require.NotNil(t, dec.Record)
	assert.Equal(t, 0, dec.Record.PromptCount)
	assert.Equal(t, 100, dec.Record.DailyQuota)

	// The fresh record is durable, not just in-memory.
	rec, err := ledger.Get(context.Background(), userID, BucketDate(noon))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.PromptCount)
}

func TestGate_BoundaryCrossingFlips(t *testing.T) {
	ledger := newFakeLedger()
	policy := ResetPolicy{Offset: 0, Hour: 14, Minute: 0}
	gate := NewGate(ledger, policy)
	userID := uuid.New()

	yesterday := BucketDate(noon).AddDate(0, 0, -1)
	ts := yesterday.Add(20 * time.Hour)
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: yesterday, PromptCount: 100, DailyQuota: 100, ExhaustedAt: &ts})

	boundary := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	_, err := gate.Admit(context.Background(), userID, 100, boundary.Add(-time.Second))
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)

	dec, err := gate.Admit(context.Background(), userID, 100, boundary)
	require.NoError(t, err)
	assert.True(t, dec.Reset)
}

func TestGate_ExhaustedNotUnlockedByHigherCeiling(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ts := noon.Add(-time.Hour)
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 20, DailyQuota: 20, ExhaustedAt: &ts})

	// The tier changed mid-day but today's record keeps its captured quota.
	_, err := gate.Admit(context.Background(), userID, 100, noon)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
}

func TestGate_AdmitFailsClosedOnLedgerError(t *testing.T) {
	ledger := newFakeLedger()
	ledger.err = assert.AnError
	gate := NewGate(ledger, DefaultResetPolicy)

	_, err := gate.Admit(context.Background(), uuid.New(), 100, noon)
	require.Error(t, err)
	var exceeded *ExceededError
	assert.False(t, errors.As(err, &exceeded), "a ledger failure must not read as a quota denial")
}

func TestGate_CommitIncrementsAndMarksExhausted(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()

	rec, err := gate.Commit(context.Background(), userID, 2, noon)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.PromptCount)
	assert.Nil(t, rec.ExhaustedAt)

	rec, err = gate.Commit(context.Background(), userID, 2, noon)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.PromptCount)
	assert.NotNil(t, rec.ExhaustedAt)
}

func TestGate_ConcurrentCommitsLoseNothing(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 7, DailyQuota: 1000})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Commit(context.Background(), userID, 1000, noon)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := ledger.Get(context.Background(), userID, BucketDate(noon))
	require.NoError(t, err)
	assert.Equal(t, 7+n, rec.PromptCount)
}

func TestGate_StatusNoRecord(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)

	st, err := gate.Status(context.Background(), uuid.New(), 100, noon)
	require.NoError(t, err)
	assert.Equal(t, 0, st.PromptCount)
	assert.Equal(t, 100, st.DailyQuota)
	assert.Nil(t, st.ExhaustedAt)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), st.ResetsAt)
}

func TestGate_StatusWithRecord(t *testing.T) {
	ledger := newFakeLedger()
	gate := NewGate(ledger, DefaultResetPolicy)
	userID := uuid.New()
	ledger.put(&Record{ID: uuid.New(), UserID: userID, BucketDate: BucketDate(noon), PromptCount: 17, DailyQuota: 20})

	st, err := gate.Status(context.Background(), userID, 100, noon)
	require.NoError(t, err)
	assert.Equal(t, 17, st.PromptCount)
	assert.Equal(t, 20, st.DailyQuota)
}
