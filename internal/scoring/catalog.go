package scoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// WeightSnapshot is an immutable, versioned view of the question catalog's weights.
// Callers hold one snapshot for the duration of an operation and must not mutate its maps.
type WeightSnapshot struct {
	Version    int64                     `json:"version"`
	ComputedAt time.Time                 `json:"computed_at"`
	Keys       []string                  `json:"keys"`
	Weights    map[string]float64        `json:"weights"`
	Categories map[string]store.Category `json:"categories"`
}

// Weight returns the weight for key and whether the catalog knows the question.
func (s *WeightSnapshot) Weight(key string) (float64, bool) {
	w, ok := s.Weights[key]
	return w, ok
}

// Has reports whether key is an active question in this snapshot.
func (s *WeightSnapshot) Has(key string) bool {
	_, ok := s.Categories[key]
	return ok
}

// SameQuestions reports whether o covers exactly the same active questions, each in the
// same category and each carrying a weight.
func (s *WeightSnapshot) SameQuestions(o *WeightSnapshot) bool {
	if o == nil || len(s.Keys) != len(o.Keys) {
		return false
	}
	a, b := sortedKeys(s.Keys), sortedKeys(o.Keys)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
		k := a[i]
		if s.Categories[k] != o.Categories[k] {
			return false
		}
		if _, ok := o.Weights[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

// Len is the number of active questions.
func (s *WeightSnapshot) Len() int { return len(s.Keys) }

// WeightsCopy returns a private copy of the weight map, suitable for persisting with a Result.
func (s *WeightSnapshot) WeightsCopy() map[string]float64 {
	out := make(map[string]float64, len(s.Weights))
	for k, v := range s.Weights {
		out[k] = v
	}
	return out
}

// CategoriesCopy returns a private copy of the question → category map.
func (s *WeightSnapshot) CategoriesCopy() map[string]store.Category {
	out := make(map[string]store.Category, len(s.Categories))
	for k, v := range s.Categories {
		out[k] = v
	}
	return out
}

// Catalog is the read-mostly registry of active questions and their current weights.
// Reads are lock-free; a recomputation becomes visible only once its whole snapshot
// is published, so no reader ever sees a half-applied refresh.
type Catalog struct {
	current   atomic.Pointer[WeightSnapshot]
	publishMu sync.Mutex
}

func NewCatalog() *Catalog {
	c := &Catalog{}
	c.current.Store(&WeightSnapshot{
		Weights:    map[string]float64{},
		Categories: map[string]store.Category{},
	})
	return c
}

// Snapshot returns the last fully published snapshot.
func (c *Catalog) Snapshot() *WeightSnapshot {
	return c.current.Load()
}

// Publish builds a snapshot from the active questions at the given version and swaps it
// in unless a newer snapshot is already live. Versions are minted by the store, so they
// order refreshes across every replica.
func (c *Catalog) Publish(questions []*store.Question, version int64, computedAt time.Time) (*WeightSnapshot, bool) {
	next := &WeightSnapshot{
		Version:    version,
		ComputedAt: computedAt,
		Weights:    make(map[string]float64, len(questions)),
		Categories: make(map[string]store.Category, len(questions)),
	}
	for _, q := range questions {
		if !q.Active {
			continue
		}
		next.Keys = append(next.Keys, q.Key)
		next.Weights[q.Key] = q.Weight
		next.Categories[q.Key] = q.Category
	}
	sort.Strings(next.Keys)

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if cur := c.current.Load(); version < cur.Version {
		return cur, false
	}
	c.current.Store(next)
	return next, true
}

// Restore installs a previously computed snapshot (e.g. from the shared cache) if it is
// strictly newer than the current one. It reports whether the snapshot was installed.
func (c *Catalog) Restore(s *WeightSnapshot) bool {
	if s == nil {
		return false
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	if s.Version <= c.current.Load().Version {
		return false
	}
	c.current.Store(s)
	return true
}
