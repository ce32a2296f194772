package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// ConsistencyError reports a ledger/balance mismatch for one user. It never occurs
// in correct operation and requires manual reconciliation; the auditor never
// rewrites balances.
type ConsistencyError struct {
	UserID           string `json:"user_id"`
	Balance          int    `json:"balance"`
	LedgerSum        int    `json:"ledger_sum"`
	LastBalanceAfter *int   `json:"last_balance_after,omitempty"`
	Reason           string `json:"reason"`
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency for %s: %s (balance=%d, ledger_sum=%d)",
		e.UserID, e.Reason, e.Balance, e.LedgerSum)
}

// AuditReport summarises one audit run.
type AuditReport struct {
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	Checked       int                 `json:"checked"`
	Inconsistent  []*ConsistencyError `json:"inconsistent"`
	Errors        []string            `json:"errors,omitempty"`
	Consistent    bool                `json:"consistent"`
	UnlockedCount int                 `json:"unlocked_results"`
}

// Auditor checks the ledger invariants: the ledger sums to the balance, the last
// entry's balance_after matches, and every unlocked result has exactly one unlock entry.
type Auditor struct {
	store       store.Store
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

func NewAuditor(s store.Store, logger *slog.Logger) *Auditor {
	return &Auditor{store: s, logger: logger, concurrency: 8, now: time.Now}
}

// AuditUser checks one user against a single consistent read of their account,
// ledger and results. It returns a *ConsistencyError on mismatch and the number of
// unlocked results it verified.
func (a *Auditor) AuditUser(ctx context.Context, userID string) (int, error) {
	sum, err := a.store.GetLedgerSummary(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger summary for %s: %w", userID, err)
	}

	inconsistent := func(reason string) *ConsistencyError {
		return &ConsistencyError{
			UserID:           userID,
			Balance:          sum.Balance,
			LedgerSum:        sum.Sum,
			LastBalanceAfter: sum.LastBalanceAfter,
			Reason:           reason,
		}
	}

	if sum.Sum != sum.Balance {
		return 0, inconsistent("ledger sum differs from balance")
	}
	if sum.LastBalanceAfter != nil && *sum.LastBalanceAfter != sum.Balance {
		return 0, inconsistent("last balance_after differs from balance")
	}
	if sum.Balance < 0 {
		return 0, inconsistent("negative balance")
	}

	checked := 0
	for _, id := range sortedIDs(sum.Results) {
		n := sum.UnlockEntries[id]
		if sum.Results[id] {
			checked++
			if n != 1 {
				return checked, inconsistent(fmt.Sprintf("unlocked result %s has %d unlock entries", id, n))
			}
		} else if n != 0 {
			return checked, inconsistent(fmt.Sprintf("locked result %s has %d unlock entries", id, n))
		}
	}
	for _, id := range sortedIDs(sum.UnlockEntries) {
		if _, ok := sum.Results[id]; !ok {
			return checked, inconsistent(fmt.Sprintf("unlock entry references unknown result %s", id))
		}
	}
	return checked, nil
}

func sortedIDs[V any](m map[uuid.UUID]V) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Run audits every account concurrently. One user's inconsistency does not stop the
// others from being checked, but any inconsistency makes the run fail: the returned
// error joins every ConsistencyError found.
func (a *Auditor) Run(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{StartedAt: a.now(), Inconsistent: []*ConsistencyError{}}

	ids, err := a.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			n, err := a.AuditUser(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			report.UnlockedCount += n

			var ce *ConsistencyError
			switch {
			case errors.As(err, &ce):
				report.Inconsistent = append(report.Inconsistent, ce)
				a.logger.Error("ledger consistency violation",
					"user_id", ce.UserID,
					"balance", ce.Balance,
					"ledger_sum", ce.LedgerSum,
					"reason", ce.Reason,
				)
			case err != nil:
				report.Errors = append(report.Errors, err.Error())
				a.logger.Error("audit user failed", "user_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = a.now()
	report.Consistent = len(report.Inconsistent) == 0 && len(report.Errors) == 0

	if len(report.Inconsistent) > 0 {
		errs := make([]error, len(report.Inconsistent))
		for i, ce := range report.Inconsistent {
			errs[i] = ce
		}
		return report, errors.Join(errs...)
	}
	if len(report.Errors) > 0 {
		return report, fmt.Errorf("audit incomplete: %d users could not be checked", len(report.Errors))
	}
	a.logger.Info("ledger audit passed", "accounts", report.Checked, "unlocked_results", report.UnlockedCount)
	return report, nil
}
