package store

import (
	"testing"
)

func TestCategoryValues(t *testing.T) {
	categories := Categories()
	expected := []string{"TRUST", "BEHAVIOR", "VALUES", "DYNAMICS"}
	if len(categories) != len(expected) {
		t.Fatalf("expected %d categories, got %d", len(expected), len(categories))
	}
	for i, c := range categories {
		if string(c) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], c)
		}
		if !c.Valid() {
			t.Errorf("expected %s to be valid", c)
		}
	}
	if Category("LOVE").Valid() {
		t.Error("expected unknown category to be invalid")
	}
}

func TestLedgerTypeIsGrant(t *testing.T) {
	grants := []LedgerType{LedgerSignupBonus, LedgerPurchase, LedgerReferralReward, LedgerRefund, LedgerAdminAdjustment}
	for _, g := range grants {
		if !g.IsGrant() {
			t.Errorf("expected %s to be a grant type", g)
		}
	}
	for _, u := range []LedgerType{LedgerUnlock, LedgerUnlockFree} {
		if u.IsGrant() {
			t.Errorf("expected %s not to be a grant type", u)
		}
	}
}

func TestResultFilterDefaults(t *testing.T) {
	f := ResultFilter{}
	if f.Limit != 0 {
		t.Errorf("expected 0 default limit, got %d", f.Limit)
	}
	if f.UserID != "" {
		t.Error("expected empty user filter")
	}
}
