package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MikeSquared-Agency/Redflag/internal/credits"
	"github.com/MikeSquared-Agency/Redflag/internal/scoring"
)

func (env *testEnv) admin(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

type stubRecomputer struct {
	calls int
	err   error
}

func (s *stubRecomputer) RunNow(_ context.Context) (*scoring.NormalizeReport, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &scoring.NormalizeReport{Mode: scoring.ModeZScore}, nil
}

func TestAdminRequiresToken(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest("POST", "/api/v1/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRefreshWeightsEndpoint(t *testing.T) {
	env := setupTestRouter(t)

	for _, u := range []string{"alice", "bob"} {
		w := env.do("PUT", "/api/v1/importance", u, `{"ratings":[{"question_key":"distrust","importance":5},{"question_key":"contempt","importance":1}]}`)
		if w.Code != http.StatusAccepted {
			t.Fatalf("rate: expected 202, got %d", w.Code)
		}
	}

	w := env.admin("GET", "/api/v1/admin/weights/report", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any recompute, got %d", w.Code)
	}

	w = env.admin("GET", "/api/v1/admin/weights/report?dry_run=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dry run: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if v := env.engine.Catalog().Snapshot().Version; v != 0 {
		t.Errorf("dry run must not publish, version %d", v)
	}

	w = env.admin("POST", "/api/v1/admin/weights/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Version int64 `json:"version"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Version != 1 {
		t.Errorf("expected version 1, got %d", resp.Version)
	}
	snap := env.engine.Catalog().Snapshot()
	distrust, _ := snap.Weight("distrust")
	contempt, _ := snap.Weight("contempt")
	if distrust <= contempt {
		t.Errorf("distrust should outweigh contempt: %v", snap.Weights)
	}

	w = env.admin("GET", "/api/v1/admin/weights/report", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 after recompute, got %d", w.Code)
	}
}

func TestRefreshWeightsUsesRecomputer(t *testing.T) {
	env := setupTestRouter(t)
	rc := &stubRecomputer{}
	router := NewRouter(env.engine, rc, "", discardTestLogger())

	req := httptest.NewRequest("POST", "/api/v1/admin/weights/refresh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || rc.calls != 1 {
		t.Errorf("expected one recompute with 200, got %d calls and status %d", rc.calls, w.Code)
	}

	rc.err = errors.New("boom")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/admin/weights/refresh", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestGrantValidation(t *testing.T) {
	env := setupTestRouter(t)

	w := env.admin("POST", "/api/v1/admin/credits/alice/grant", `{"type":"unlock_analysis","amount":1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unlock type, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != "invalid_grant" {
		t.Errorf("expected invalid_grant, got %q", e.Code)
	}

	w = env.admin("POST", "/api/v1/admin/credits/alice/grant", `{"amount":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("default type should be admin_adjustment, got %d: %s", w.Code, w.Body.String())
	}
	acct, _ := env.engine.Balance(context.Background(), "alice")
	if acct.Credits != 3 {
		t.Errorf("expected 3 credits, got %d", acct.Credits)
	}
}

func TestUnlimitedUnlockIsFree(t *testing.T) {
	env := setupTestRouter(t)
	view := env.submit(t, "vip")

	w := env.admin("PUT", "/api/v1/admin/credits/vip/unlimited", `{"unlimited":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = env.do("POST", "/api/v1/analyses/"+view.ID.String()+"/unlock", "vip", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do("GET", "/api/v1/credits", "vip", "")
	var acct struct {
		Credits   int  `json:"credits"`
		Unlimited bool `json:"unlimited"`
	}
	json.NewDecoder(w.Body).Decode(&acct)
	if acct.Credits != 0 || !acct.Unlimited {
		t.Errorf("unexpected account %+v", acct)
	}
}

func TestAuditEndpoint(t *testing.T) {
	env := setupTestRouter(t)
	env.admin("POST", "/api/v1/admin/credits/alice/grant", `{"type":"purchase","amount":2}`)

	w := env.admin("POST", "/api/v1/admin/audit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rep credits.AuditReport
	json.NewDecoder(w.Body).Decode(&rep)
	if !rep.Consistent || rep.Checked != 1 {
		t.Errorf("expected a clean audit of one account, got %+v", rep)
	}

	env.store.CorruptBalance("alice", 10)
	w = env.admin("POST", "/api/v1/admin/audit", "")
	rep = credits.AuditReport{}
	json.NewDecoder(w.Body).Decode(&rep)
	if rep.Consistent || len(rep.Inconsistent) != 1 {
		t.Errorf("expected drift to be reported, got %+v", rep)
	}
}
