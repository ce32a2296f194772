package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// ErrInvalidGrant is returned for a grant with an unknown type or a zero amount.
var ErrInvalidGrant = errors.New("invalid credit grant")

// Gate moves results from locked to unlocked against a user's credit balance.
// All balance mutations go through the store's atomic operations; the gate adds
// input checks and logging.
type Gate struct {
	store  store.Store
	logger *slog.Logger
}

func NewGate(s store.Store, logger *slog.Logger) *Gate {
	return &Gate{store: s, logger: logger}
}

// Unlock unlocks resultID for userID, spending one credit unless the account is
// unlimited. Unlocking an already unlocked result succeeds without charging again.
func (g *Gate) Unlock(ctx context.Context, resultID uuid.UUID, userID string) (*store.UnlockReceipt, error) {
	if userID == "" {
		return nil, store.ErrNotOwner
	}
	receipt, err := g.store.UnlockResult(ctx, resultID, userID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientCredit):
			g.logger.Info("unlock refused: insufficient credit", "result_id", resultID, "user_id", userID)
		case errors.Is(err, store.ErrNotOwner):
			g.logger.Warn("unlock refused: not owner", "result_id", resultID, "user_id", userID)
		case errors.Is(err, store.ErrNotFound):
		default:
			g.logger.Error("unlock failed", "result_id", resultID, "user_id", userID, "error", err)
		}
		return nil, err
	}

	if receipt.AlreadyUnlocked {
		g.logger.Debug("unlock no-op: already unlocked", "result_id", resultID, "user_id", userID)
	} else {
		g.logger.Info("result unlocked",
			"result_id", resultID,
			"user_id", userID,
			"charged", receipt.Charged,
			"balance", receipt.Balance,
		)
	}
	return receipt, nil
}

// Grant adds (or, for refunds and admin adjustments, removes) credits with a ledger entry.
func (g *Gate) Grant(ctx context.Context, userID string, typ store.LedgerType, amount int, description string, metadata map[string]interface{}) (*store.Account, *store.LedgerEntry, error) {
	if userID == "" {
		return nil, nil, fmt.Errorf("%w: user_id is required", ErrInvalidGrant)
	}
	if !typ.IsGrant() {
		return nil, nil, fmt.Errorf("%w: type %q", ErrInvalidGrant, typ)
	}
	if amount == 0 {
		return nil, nil, fmt.Errorf("%w: amount must be non-zero", ErrInvalidGrant)
	}
	if amount < 0 && typ != store.LedgerAdminAdjustment && typ != store.LedgerRefund {
		return nil, nil, fmt.Errorf("%w: %s cannot be negative", ErrInvalidGrant, typ)
	}

	entry := &store.LedgerEntry{
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		Metadata:    metadata,
	}
	acct, err := g.store.GrantCredits(ctx, entry)
	if err != nil {
		return nil, nil, err
	}
	g.logger.Info("credits granted", "user_id", userID, "type", typ, "amount", amount, "balance", acct.Credits)
	return acct, entry, nil
}

// SetUnlimited toggles free unlocks for an account.
func (g *Gate) SetUnlimited(ctx context.Context, userID string, unlimited bool) (*store.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidGrant)
	}
	acct, err := g.store.SetUnlimited(ctx, userID, unlimited)
	if err != nil {
		return nil, err
	}
	g.logger.Info("account unlimited flag set", "user_id", userID, "unlimited", unlimited)
	return acct, nil
}

// Balance returns the account, or a zero balance for a user who never received credits.
func (g *Gate) Balance(ctx context.Context, userID string) (*store.Account, error) {
	acct, err := g.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &store.Account{UserID: userID}, nil
	}
	return acct, nil
}

// Ledger returns the newest entries first.
func (g *Gate) Ledger(ctx context.Context, userID string, limit int) ([]*store.LedgerEntry, error) {
	entries, err := g.store.ListLedgerEntries(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*store.LedgerEntry{}
	}
	return entries, nil
}
