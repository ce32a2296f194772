package scoring

import (
	"log/slog"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// DefaultMaxScale is the upper end of the score range. Scores live on [0, DefaultMaxScale].
const DefaultMaxScale = 10.0

// Contribution captures one answer's share of the weighted score.
type Contribution struct {
	Key      string         `json:"key"`
	Category store.Category `json:"category,omitempty"`
	Value    int            `json:"value"`
	Factor   float64        `json:"factor"`
	Weight   float64        `json:"weight"`
	Weighted float64        `json:"weighted"`
	Reason   string         `json:"reason,omitempty"`
}

// Scores is the aggregated outcome of one AnswerSet.
type Scores struct {
	Total         float64                    `json:"total"`
	Categories    map[store.Category]float64 `json:"categories"`
	Contributions []Contribution             `json:"contributions,omitempty"`
	// Guards counts how many defensive fallbacks fired (clamped values, bad weights, clamped totals).
	Guards int `json:"guards"`
}

// Aggregator turns an AnswerSet into a total and per-category weighted score.
// It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	maxScale      float64
	defaultWeight float64
	logger        *slog.Logger
	onGuard       func(reason string)
}

type AggregatorOption func(*Aggregator)

// WithGuardHook registers a callback invoked once per fallback, keyed by reason.
func WithGuardHook(fn func(reason string)) AggregatorOption {
	return func(a *Aggregator) { a.onGuard = fn }
}

func NewAggregator(maxScale, defaultWeight float64, logger *slog.Logger, opts ...AggregatorOption) *Aggregator {
	if maxScale <= 0 {
		maxScale = DefaultMaxScale
	}
	if !finite(defaultWeight) || defaultWeight <= 0 {
		defaultWeight = DefaultWeightBounds().Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{maxScale: maxScale, defaultWeight: defaultWeight, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) MaxScale() float64 { return a.maxScale }

// Factor maps an answer value in [1,5] linearly onto [0, maxScale]. Out-of-range
// values are clamped first.
func (a *Aggregator) Factor(value int) float64 {
	return float64(clampAnswer(value)-1) * a.maxScale / 4
}

// Aggregate scores answers against the given weights and question categories.
// A missing weight falls back to the default weight; an answer whose key has no
// category still counts toward the total.
func (a *Aggregator) Aggregate(answers []store.Answer, weights map[string]float64, categories map[string]store.Category) Scores {
	out := Scores{
		Categories:    make(map[store.Category]float64, 4),
		Contributions: make([]Contribution, 0, len(answers)),
	}

	var totalWeighted, totalWeight float64
	type acc struct{ weighted, weight float64 }
	perCat := make(map[store.Category]*acc, 4)

	for _, ans := range answers {
		c := Contribution{Key: ans.Key, Category: categories[ans.Key], Value: clampAnswer(ans.Value)}
		if c.Value != ans.Value {
			out.Guards++
			a.guard("answer_clamped", "answer value outside range", "key", ans.Key, "value", ans.Value)
			c.Reason = "value clamped"
		}

		w, reason := resolveWeight(weights, ans.Key, a.defaultWeight)
		if reason != "" {
			if reason != "missing" {
				out.Guards++
				a.guard("weight_invalid", "invalid weight replaced by default", "key", ans.Key)
			}
			if c.Reason == "" {
				c.Reason = "default weight (" + reason + ")"
			}
		}

		c.Weight = w
		c.Factor = a.Factor(c.Value)
		c.Weighted = c.Factor * w
		out.Contributions = append(out.Contributions, c)

		totalWeighted += c.Weighted
		totalWeight += w

		if c.Category == "" {
			continue
		}
		ca, ok := perCat[c.Category]
		if !ok {
			ca = &acc{}
			perCat[c.Category] = ca
		}
		ca.weighted += c.Weighted
		ca.weight += w
	}

	out.Total = a.finish(weightedMean(totalWeighted, totalWeight), &out.Guards)
	for _, cat := range store.Categories() {
		ca, ok := perCat[cat]
		if !ok {
			out.Categories[cat] = 0
			continue
		}
		out.Categories[cat] = a.finish(weightedMean(ca.weighted, ca.weight), &out.Guards)
	}
	return out
}

// finish rounds to two decimals and enforces [0, maxScale].
func (a *Aggregator) finish(v float64, guards *int) float64 {
	if !finite(v) {
		*guards++
		a.guard("score_nonfinite", "non-finite score replaced by 0")
		return 0
	}
	r := round2(v)
	if r < 0 || r > a.maxScale {
		*guards++
		a.guard("score_clamped", "score outside range", "score", r)
		r = clampFloat(r, 0, a.maxScale)
	}
	return r
}

func (a *Aggregator) guard(reason, msg string, args ...any) {
	a.logger.Warn(msg, append([]any{"guard", reason}, args...)...)
	if a.onGuard != nil {
		a.onGuard(reason)
	}
}

// resolveWeight returns the usable weight for key and, when it had to fall back,
// why: "missing" for an unknown key, "invalid" for a non-finite or negative weight.
func resolveWeight(weights map[string]float64, key string, def float64) (float64, string) {
	w, ok := weights[key]
	if !ok {
		return def, "missing"
	}
	if !finite(w) || w < 0 {
		return def, "invalid"
	}
	return w, ""
}

func weightedMean(weighted, weight float64) float64 {
	if weight <= 0 {
		return 0
	}
	return weighted / weight
}

func clampAnswer(v int) int {
	if v < MinAnswerValue {
		return MinAnswerValue
	}
	if v > MaxAnswerValue {
		return MaxAnswerValue
	}
	return v
}
