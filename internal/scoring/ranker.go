package scoring

import (
	"errors"
	"sort"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// ErrResultLocked is returned when red flags are requested for a result that has not been unlocked.
var ErrResultLocked = errors.New("result is locked")

// DefaultTopFlags is the page size used when the caller asks for no explicit limit.
const DefaultTopFlags = 5

// RedFlag is one answered question ranked by its weighted impact.
type RedFlag struct {
	Rank        int            `json:"rank"`
	Key         string         `json:"key"`
	Category    store.Category `json:"category,omitempty"`
	Value       int            `json:"value"`
	Weight      float64        `json:"weight"`
	Impact      float64        `json:"impact"`
	MaxPossible float64        `json:"max_possible"`
}

// RedFlagPage is a window over the full ranking.
type RedFlagPage struct {
	Items  []RedFlag `json:"items"`
	Total  int       `json:"total"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
}

// Ranker orders answered questions by value × weight.
type Ranker struct {
	defaultWeight float64
	defaultLimit  int
}

func NewRanker(defaultWeight float64, defaultLimit int) *Ranker {
	if !finite(defaultWeight) || defaultWeight <= 0 {
		defaultWeight = DefaultWeightBounds().Default
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultTopFlags
	}
	return &Ranker{defaultWeight: defaultWeight, defaultLimit: defaultLimit}
}

// RankAll returns every answer ordered by descending impact. Equal impacts keep
// their submission order.
func (r *Ranker) RankAll(answers []store.Answer, weights map[string]float64, categories map[string]store.Category) []RedFlag {
	type scored struct {
		flag   RedFlag
		impact float64
	}
	items := make([]scored, 0, len(answers))
	for _, ans := range answers {
		v := clampAnswer(ans.Value)
		w, _ := resolveWeight(weights, ans.Key, r.defaultWeight)
		impact := float64(v) * w
		items = append(items, scored{
			flag: RedFlag{
				Key:         ans.Key,
				Category:    categories[ans.Key],
				Value:       v,
				Weight:      w,
				Impact:      round2(impact),
				MaxPossible: round2(float64(MaxAnswerValue) * w),
			},
			impact: impact,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].impact > items[j].impact
	})

	out := make([]RedFlag, len(items))
	for i, it := range items {
		it.flag.Rank = i + 1
		out[i] = it.flag
	}
	return out
}

// Rank returns a page of the result's red flags. It refuses locked results.
// A limit of zero or less uses the default page size.
func (r *Ranker) Rank(result *store.Result, offset, limit int) (*RedFlagPage, error) {
	if !result.Unlocked {
		return nil, ErrResultLocked
	}
	return r.Page(r.RankAll(result.Answers, result.Weights, result.QuestionCategories), offset, limit), nil
}

// Page slices a full ranking.
func (r *Ranker) Page(all []RedFlag, offset, limit int) *RedFlagPage {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	page := &RedFlagPage{Items: []RedFlag{}, Total: len(all), Offset: offset, Limit: limit}
	if offset >= len(all) {
		return page
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page.Items = append(page.Items, all[offset:end]...)
	return page
}
