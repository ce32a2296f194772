package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local runs and tests. A single mutex
// makes every method linearizable, which satisfies the per-user atomicity UnlockResult
// and GrantCredits require. Values are copied in and out so callers never share state.
type MemoryStore struct {
	mu        sync.Mutex
	questions map[string]*Question
	ratings   map[string]map[string]ImportanceRating
	results   map[uuid.UUID]*Result
	accounts  map[string]*Account
	ledger    []*LedgerEntry
	weightsV  int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions: make(map[string]*Question),
		ratings:   make(map[string]map[string]ImportanceRating),
		results:   make(map[uuid.UUID]*Result),
		accounts:  make(map[string]*Account),
		now:       time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

// --- Questions ---

func (m *MemoryStore) UpsertQuestion(_ context.Context, q *Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.questions[q.Key]; ok {
		existing.Category = q.Category
		existing.Position = q.Position
		existing.DefaultWeight = q.DefaultWeight
		existing.Active = q.Active
		existing.UpdatedAt = now
		q.Weight = existing.Weight
		q.CreatedAt = existing.CreatedAt
		q.UpdatedAt = now
		return nil
	}
	q.CreatedAt = now
	q.UpdatedAt = now
	cp := *q
	m.questions[q.Key] = &cp
	return nil
}

func (m *MemoryStore) ListQuestions(_ context.Context, activeOnly bool) ([]*Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Question
	for _, q := range m.questions {
		if activeOnly && !q.Active {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (m *MemoryStore) UpdateQuestionWeight(_ context.Context, key string, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[key]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	q.Weight = weight
	q.WeightUpdatedAt = &now
	q.UpdatedAt = now
	return nil
}

func (m *MemoryStore) WeightsVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weightsV, nil
}

func (m *MemoryStore) NextWeightsVersion(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weightsV++
	return m.weightsV, nil
}

// --- Importance ratings ---

func (m *MemoryStore) UpsertImportanceRatings(_ context.Context, userID string, ratings []ImportanceRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range ratings {
		if _, ok := m.questions[r.QuestionKey]; !ok {
			return ErrNotFound
		}
	}
	byKey, ok := m.ratings[userID]
	if !ok {
		byKey = make(map[string]ImportanceRating)
		m.ratings[userID] = byKey
	}
	now := m.now()
	for _, r := range ratings {
		byKey[r.QuestionKey] = ImportanceRating{
			UserID:      userID,
			QuestionKey: r.QuestionKey,
			Importance:  r.Importance,
			UpdatedAt:   now,
		}
	}
	return nil
}

func (m *MemoryStore) ListImportanceRatings(_ context.Context) ([]ImportanceRating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ImportanceRating
	for _, byKey := range m.ratings {
		for _, r := range byKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].QuestionKey < out[j].QuestionKey
	})
	return out, nil
}

// --- Results ---

func (m *MemoryStore) CreateResult(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = uuid.New()
	r.Unlocked = false
	r.UnlockedAt = nil
	r.CreatedAt = m.now()
	m.results[r.ID] = cloneResult(r)
	return nil
}

func (m *MemoryStore) GetResult(_ context.Context, id uuid.UUID) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[id]
	if !ok {
		return nil, nil
	}
	return cloneResult(r), nil
}

func (m *MemoryStore) ListResults(_ context.Context, filter ResultFilter) ([]*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Result
	for _, r := range m.results {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Credits ---

func (m *MemoryStore) GetAccount(_ context.Context, userID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) SetUnlimited(_ context.Context, userID string, unlimited bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.ensureAccountLocked(userID)
	a.Unlimited = unlimited
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GrantCredits(_ context.Context, entry *LedgerEntry) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.ensureAccountLocked(entry.UserID)
	if a.Credits+entry.Amount < 0 {
		return nil, ErrInsufficientCredit
	}
	a.Credits += entry.Amount
	a.UpdatedAt = m.now()
	entry.BalanceAfter = a.Credits
	m.appendLedgerLocked(entry)

	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UnlockResult(_ context.Context, resultID uuid.UUID, userID string) (*UnlockReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[resultID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.UserID != userID {
		return nil, ErrNotOwner
	}

	a := m.accounts[userID]
	if r.Unlocked {
		balance := 0
		if a != nil {
			balance = a.Credits
		}
		return &UnlockReceipt{Result: cloneResult(r), AlreadyUnlocked: true, Balance: balance}, nil
	}
	if a == nil {
		return nil, ErrInsufficientCredit
	}

	rid := r.ID
	entry := &LedgerEntry{
		UserID:      userID,
		ResultID:    &rid,
		Description: "Unlocked analysis " + rid.String(),
	}
	receipt := &UnlockReceipt{}

	if a.Unlimited {
		entry.Type = LedgerUnlockFree
		entry.BalanceAfter = a.Credits
	} else {
		if a.Credits < 1 {
			return nil, ErrInsufficientCredit
		}
		a.Credits--
		a.UpdatedAt = m.now()
		entry.Type = LedgerUnlock
		entry.Amount = -1
		entry.BalanceAfter = a.Credits
		receipt.Charged = true
	}
	m.appendLedgerLocked(entry)

	now := m.now()
	r.Unlocked = true
	r.UnlockedAt = &now

	receipt.Result = cloneResult(r)
	receipt.Balance = entry.BalanceAfter
	cp := *entry
	receipt.Entry = &cp
	return receipt, nil
}

func (m *MemoryStore) ListLedgerEntries(_ context.Context, userID string, limit int) ([]*LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []*LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].UserID == userID {
			cp := *m.ledger[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetLedgerSummary(_ context.Context, userID string) (*LedgerSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	sum := &LedgerSummary{
		UserID:        userID,
		Balance:       a.Credits,
		UnlockEntries: make(map[uuid.UUID]int),
		Results:       make(map[uuid.UUID]bool),
	}
	for _, e := range m.ledger {
		if e.UserID != userID {
			continue
		}
		sum.Sum += e.Amount
		sum.Entries++
		last := e.BalanceAfter
		sum.LastBalanceAfter = &last
		if (e.Type == LedgerUnlock || e.Type == LedgerUnlockFree) && e.ResultID != nil {
			sum.UnlockEntries[*e.ResultID]++
		}
	}
	for id, r := range m.results {
		if r.UserID == userID {
			sum.Results[id] = r.Unlocked
		}
	}
	return sum, nil
}

func (m *MemoryStore) ListAccountIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CorruptBalance overwrites a balance without a ledger entry. Audit tests use it to
// simulate drift between the ledger and the account row.
func (m *MemoryStore) CorruptBalance(userID string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureAccountLocked(userID).Credits = credits
}

func (m *MemoryStore) ensureAccountLocked(userID string) *Account {
	a, ok := m.accounts[userID]
	if !ok {
		now := m.now()
		a = &Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
		m.accounts[userID] = a
	}
	return a
}

func (m *MemoryStore) appendLedgerLocked(entry *LedgerEntry) {
	entry.ID = uuid.New()
	entry.CreatedAt = m.now()
	cp := *entry
	m.ledger = append(m.ledger, &cp)
}

func cloneResult(r *Result) *Result {
	cp := *r
	cp.Answers = append([]Answer(nil), r.Answers...)
	if r.Weights != nil {
		cp.Weights = make(map[string]float64, len(r.Weights))
		for k, v := range r.Weights {
			cp.Weights[k] = v
		}
	}
	if r.QuestionCategories != nil {
		cp.QuestionCategories = make(map[string]Category, len(r.QuestionCategories))
		for k, v := range r.QuestionCategories {
			cp.QuestionCategories[k] = v
		}
	}
	if r.CategoryScores != nil {
		cp.CategoryScores = make(map[Category]float64, len(r.CategoryScores))
		for k, v := range r.CategoryScores {
			cp.CategoryScores[k] = v
		}
	}
	if r.UnlockedAt != nil {
		t := *r.UnlockedAt
		cp.UnlockedAt = &t
	}
	return &cp
}
