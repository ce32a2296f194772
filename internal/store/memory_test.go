package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedResult(t *testing.T, m *MemoryStore, userID string) *Result {
	t.Helper()
	r := &Result{
		UserID:         userID,
		Answers:        []Answer{{Key: "father_absence", Value: 4}},
		Weights:        map[string]float64{"father_absence": 5},
		TotalScore:     7.5,
		CategoryScores: map[Category]float64{CategoryTrust: 7.5},
	}
	require.NoError(t, m.CreateResult(context.Background(), r))
	return r
}

func grant(t *testing.T, m *MemoryStore, userID string, amount int) *Account {
	t.Helper()
	a, err := m.GrantCredits(context.Background(), &LedgerEntry{UserID: userID, Type: LedgerPurchase, Amount: amount})
	require.NoError(t, err)
	return a
}

func TestMemoryQuestions(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.UpsertQuestion(ctx, &Question{Key: "b", Category: CategoryTrust, Position: 2, DefaultWeight: 3, Weight: 3, Active: true}))
	require.NoError(t, m.UpsertQuestion(ctx, &Question{Key: "a", Category: CategoryValues, Position: 1, DefaultWeight: 3, Weight: 3, Active: true}))
	require.NoError(t, m.UpsertQuestion(ctx, &Question{Key: "c", Category: CategoryValues, Position: 3, DefaultWeight: 3, Weight: 3, Active: false}))

	all, err := m.ListQuestions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := m.ListQuestions(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].Key)
	assert.Equal(t, "b", active[1].Key)

	require.NoError(t, m.UpdateQuestionWeight(ctx, "a", 4.25))
	active, _ = m.ListQuestions(ctx, true)
	assert.Equal(t, 4.25, active[0].Weight)
	assert.NotNil(t, active[0].WeightUpdatedAt)

	// re-upserting keeps the computed weight
	require.NoError(t, m.UpsertQuestion(ctx, &Question{Key: "a", Category: CategoryValues, Position: 1, DefaultWeight: 2, Active: true}))
	active, _ = m.ListQuestions(ctx, true)
	assert.Equal(t, 4.25, active[0].Weight)
	assert.Equal(t, 2.0, active[0].DefaultWeight)

	assert.ErrorIs(t, m.UpdateQuestionWeight(ctx, "missing", 1), ErrNotFound)
}

func TestMemoryImportanceRatingsUpsert(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.UpsertQuestion(ctx, &Question{Key: "q1", Category: CategoryTrust, Active: true}))
	require.NoError(t, m.UpsertQuestion(ctx, &Question{Key: "q2", Category: CategoryTrust, Active: true}))

	require.NoError(t, m.UpsertImportanceRatings(ctx, "u1", []ImportanceRating{{QuestionKey: "q1", Importance: 2}, {QuestionKey: "q2", Importance: 5}}))
	require.NoError(t, m.UpsertImportanceRatings(ctx, "u1", []ImportanceRating{{QuestionKey: "q1", Importance: 4}}))

	ratings, err := m.ListImportanceRatings(ctx)
	require.NoError(t, err)
	require.Len(t, ratings, 2)
	assert.Equal(t, 4, ratings[0].Importance, "latest value replaces prior")
	assert.Equal(t, "u1", ratings[0].UserID)

	err = m.UpsertImportanceRatings(ctx, "u1", []ImportanceRating{{QuestionKey: "nope", Importance: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryResultsAreCopied(t *testing.T) {
	m := NewMemoryStore()
	r := seedResult(t, m, "alice")
	require.NotEqual(t, uuid.Nil, r.ID)

	got, err := m.GetResult(context.Background(), r.ID)
	require.NoError(t, err)
	got.Weights["father_absence"] = 1
	got.Unlocked = true

	again, _ := m.GetResult(context.Background(), r.ID)
	assert.Equal(t, 5.0, again.Weights["father_absence"])
	assert.False(t, again.Unlocked)

	missing, err := m.GetResult(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryListResultsPaging(t *testing.T) {
	m := NewMemoryStore()
	for i := 0; i < 3; i++ {
		seedResult(t, m, "alice")
	}
	seedResult(t, m, "bob")

	all, err := m.ListResults(context.Background(), ResultFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := m.ListResults(context.Background(), ResultFilter{UserID: "alice", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	empty, err := m.ListResults(context.Background(), ResultFilter{UserID: "alice", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryUnlockChargesOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := seedResult(t, m, "alice")
	grant(t, m, "alice", 2)

	receipt, err := m.UnlockResult(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.True(t, receipt.Charged)
	assert.False(t, receipt.AlreadyUnlocked)
	assert.Equal(t, 1, receipt.Balance)
	assert.True(t, receipt.Result.Unlocked)
	require.NotNil(t, receipt.Entry)
	assert.Equal(t, LedgerUnlock, receipt.Entry.Type)
	assert.Equal(t, -1, receipt.Entry.Amount)
	assert.Equal(t, r.ID, *receipt.Entry.ResultID)

	again, err := m.UnlockResult(ctx, r.ID, "alice")
	require.NoError(t, err)
	assert.True(t, again.AlreadyUnlocked)
	assert.False(t, again.Charged)
	assert.Equal(t, 1, again.Balance)

	sum, err := m.GetLedgerSummary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Balance)
	assert.Equal(t, 1, sum.Sum)
	assert.Equal(t, 2, sum.Entries)
	assert.Equal(t, map[uuid.UUID]int{r.ID: 1}, sum.UnlockEntries)
	assert.Equal(t, map[uuid.UUID]bool{r.ID: true}, sum.Results)

	pending := seedResult(t, m, "alice")
	sum, err = m.GetLedgerSummary(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, sum.Results, pending.ID)
	assert.False(t, sum.Results[pending.ID])
	assert.Zero(t, sum.UnlockEntries[pending.ID])
}

func TestMemoryUnlockRefusals(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := seedResult(t, m, "alice")

	_, err := m.UnlockResult(ctx, uuid.New(), "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	grant(t, m, "mallory", 5)
	_, err = m.UnlockResult(ctx, r.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotOwner)

	// no account at all
	_, err = m.UnlockResult(ctx, r.ID, "alice")
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	got, _ := m.GetResult(ctx, r.ID)
	assert.False(t, got.Unlocked)

	acct, _ := m.GetAccount(ctx, "mallory")
	assert.Equal(t, 5, acct.Credits, "non-owner attempt must not touch any balance")
}

func TestMemoryUnlockUnlimitedAccount(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := seedResult(t, m, "tester")
	_, err := m.SetUnlimited(ctx, "tester", true)
	require.NoError(t, err)

	receipt, err := m.UnlockResult(ctx, r.ID, "tester")
	require.NoError(t, err)
	assert.False(t, receipt.Charged)
	assert.Equal(t, LedgerUnlockFree, receipt.Entry.Type)
	assert.Equal(t, 0, receipt.Entry.Amount)
	assert.Equal(t, 0, receipt.Balance)
}

func TestMemoryGrantNeverNegative(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	grant(t, m, "alice", 1)

	_, err := m.GrantCredits(ctx, &LedgerEntry{UserID: "alice", Type: LedgerAdminAdjustment, Amount: -2})
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	a, _ := m.GetAccount(ctx, "alice")
	assert.Equal(t, 1, a.Credits)

	entries, err := m.ListLedgerEntries(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryConcurrentUnlocksOneCredit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r1 := seedResult(t, m, "alice")
	r2 := seedResult(t, m, "alice")
	grant(t, m, "alice", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{r1.ID, r2.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = m.UnlockResult(ctx, id, "alice")
		}(i, id)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientCredit):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)

	a, _ := m.GetAccount(ctx, "alice")
	assert.Equal(t, 0, a.Credits)
}

func TestMemoryConcurrentUnlockSameResult(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := seedResult(t, m, "alice")
	grant(t, m, "alice", 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	charged := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := m.UnlockResult(ctx, r.ID, "alice")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if receipt.Charged {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, charged)
	a, _ := m.GetAccount(ctx, "alice")
	assert.Equal(t, 2, a.Credits)
}
