package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `user_id, credits, unlimited, created_at, updated_at`

const ledgerColumns = `id, user_id, type, amount, balance_after, result_id, description, metadata, created_at`

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*Account, error) {
	a := &Account{}
	err := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.Credits, &a.Unlimited, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) SetUnlimited(ctx context.Context, userID string, unlimited bool) (*Account, error) {
	a := &Account{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, unlimited) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET unlimited = EXCLUDED.unlimited, updated_at = NOW()
		RETURNING `+accountColumns,
		userID, unlimited,
	).Scan(&a.UserID, &a.Credits, &a.Unlimited, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GrantCredits locks the account row (creating it on first grant), applies the signed
// amount and appends the ledger entry in the same transaction.
func (s *PostgresStore) GrantCredits(ctx context.Context, entry *LedgerEntry) (*Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, entry.UserID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	var credits int
	if err := tx.QueryRow(ctx, `
		SELECT credits FROM accounts WHERE user_id = $1 FOR UPDATE`, entry.UserID,
	).Scan(&credits); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	if credits+entry.Amount < 0 {
		return nil, ErrInsufficientCredit
	}

	a := &Account{}
	if err := tx.QueryRow(ctx, `
		UPDATE accounts SET credits = credits + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+accountColumns,
		entry.UserID, entry.Amount,
	).Scan(&a.UserID, &a.Credits, &a.Unlimited, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	entry.BalanceAfter = a.Credits
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

// UnlockResult runs the whole LOCKED -> UNLOCKED transition in one transaction.
// Row locks are always taken result first, then account, so concurrent unlocks of the
// same result serialize on the result row and concurrent spends by one user serialize
// on the account row.
func (s *PostgresStore) UnlockResult(ctx context.Context, resultID uuid.UUID, userID string) (*UnlockReceipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// 1. Lock the result
	r, err := scanResult(tx.QueryRow(ctx, `
		SELECT `+resultColumns+` FROM results WHERE id = $1 FOR UPDATE`, resultID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock result: %w", err)
	}

	// 2. Ownership
	if r.UserID != userID {
		return nil, ErrNotOwner
	}

	// 3. Idempotent when already unlocked
	if r.Unlocked {
		var balance int
		err := tx.QueryRow(ctx, `SELECT credits FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &UnlockReceipt{Result: r, AlreadyUnlocked: true, Balance: balance}, nil
	}

	// 4. Lock the account and check the balance
	var credits int
	var unlimited bool
	err = tx.QueryRow(ctx, `
		SELECT credits, unlimited FROM accounts WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&credits, &unlimited)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInsufficientCredit
	}
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}

	rid := r.ID
	entry := &LedgerEntry{
		UserID:      userID,
		ResultID:    &rid,
		Description: "Unlocked analysis " + rid.String(),
	}
	receipt := &UnlockReceipt{}

	if unlimited {
		entry.Type = LedgerUnlockFree
		entry.Amount = 0
		entry.BalanceAfter = credits
	} else {
		if credits < 1 {
			return nil, ErrInsufficientCredit
		}
		// 5. Debit
		if err := tx.QueryRow(ctx, `
			UPDATE accounts SET credits = credits - 1, updated_at = NOW()
			WHERE user_id = $1
			RETURNING credits`, userID,
		).Scan(&entry.BalanceAfter); err != nil {
			return nil, fmt.Errorf("debit credit: %w", err)
		}
		entry.Type = LedgerUnlock
		entry.Amount = -1
		receipt.Charged = true
	}

	// 6. Ledger
	if err := insertLedgerEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	// 7. Flip
	if err := tx.QueryRow(ctx, `
		UPDATE results SET unlocked = TRUE, unlocked_at = NOW()
		WHERE id = $1
		RETURNING unlocked, unlocked_at`, r.ID,
	).Scan(&r.Unlocked, &r.UnlockedAt); err != nil {
		return nil, fmt.Errorf("flip unlock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	receipt.Result = r
	receipt.Balance = entry.BalanceAfter
	receipt.Entry = entry
	return receipt, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *LedgerEntry) error {
	metadataJSON, _ := json.Marshal(entry.Metadata)
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (user_id, type, amount, balance_after, result_id, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		entry.UserID, entry.Type, entry.Amount, entry.BalanceAfter, entry.ResultID,
		nullString(entry.Description), metadataJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM credit_ledger WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		e := &LedgerEntry{}
		var description *string
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter, &e.ResultID,
			&description, &metadataJSON, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if description != nil {
			e.Description = *description
		}
		if metadataJSON != nil {
			_ = json.Unmarshal(metadataJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLedgerSummary reads the account, ledger and results in one read-only
// repeatable-read transaction, so all three reflect the same committed state.
func (s *PostgresStore) GetLedgerSummary(ctx context.Context, userID string) (*LedgerSummary, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sum := &LedgerSummary{
		UserID:        userID,
		UnlockEntries: make(map[uuid.UUID]int),
		Results:       make(map[uuid.UUID]bool),
	}
	err = tx.QueryRow(ctx, `
		SELECT a.credits,
			COALESCE((SELECT SUM(amount) FROM credit_ledger WHERE user_id = a.user_id), 0),
			(SELECT COUNT(*) FROM credit_ledger WHERE user_id = a.user_id),
			(SELECT balance_after FROM credit_ledger WHERE user_id = a.user_id ORDER BY seq DESC LIMIT 1)
		FROM accounts a WHERE a.user_id = $1`, userID,
	).Scan(&sum.Balance, &sum.Sum, &sum.Entries, &sum.LastBalanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT result_id, COUNT(*) FROM credit_ledger
		WHERE user_id = $1 AND result_id IS NOT NULL AND type IN ('unlock_analysis', 'unlock_free')
		GROUP BY result_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("count unlock entries: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.UnlockEntries[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT id, unlocked FROM results WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list result states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var unlocked bool
		if err := rows.Scan(&id, &unlocked); err != nil {
			return nil, err
		}
		sum.Results[id] = unlocked
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sum, tx.Commit(ctx)
}

func (s *PostgresStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM accounts ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
