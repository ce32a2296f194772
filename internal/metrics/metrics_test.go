package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestGuardCountsByReason(t *testing.T) {
	m := New()
	m.Guard("answer_clamped")
	m.Guard("answer_clamped")
	m.Guard("weight_invalid")

	body := scrape(t, m)
	for _, want := range []string{
		`redflag_score_guards_total{reason="answer_clamped"} 2`,
		`redflag_score_guards_total{reason="weight_invalid"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Unlocks.WithLabelValues("charged").Inc()
	m.WeightsVersion.Set(3)

	body := scrape(t, m)
	for _, want := range []string{
		`redflag_unlocks_total{outcome="charged"} 1`,
		"redflag_weights_version 3",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	// two instances must not collide on registration
	a, b := New(), New()
	a.AnalysesSubmitted.Inc()
	if strings.Contains(scrape(t, b), "redflag_analyses_submitted_total 1") {
		t.Error("expected independent registries")
	}
}
