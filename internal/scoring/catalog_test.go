package scoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

func TestCatalogPublishVersions(t *testing.T) {
	c := NewCatalog()
	assert.Equal(t, int64(0), c.Snapshot().Version)
	assert.Equal(t, 0, c.Snapshot().Len())

	qs := testQuestions("q1", "q2")
	qs[1].Active = false
	qs[0].Weight = 4.2

	s, ok := c.Publish(qs, 1, time.Now())
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Version)
	assert.Equal(t, []string{"q1"}, s.Keys)
	assert.True(t, s.Has("q1"))
	assert.False(t, s.Has("q2"), "inactive questions are not published")
	w, ok := s.Weight("q1")
	assert.True(t, ok)
	assert.Equal(t, 4.2, w)

	s2, ok := c.Publish(qs, 2, time.Now())
	require.True(t, ok)
	assert.Equal(t, int64(2), s2.Version)
	assert.Same(t, s2, c.Snapshot())

	_, ok = c.Publish(qs, 2, time.Now())
	assert.True(t, ok, "republishing the live version is allowed")

	cur, ok := c.Publish(testQuestions("q9"), 1, time.Now())
	assert.False(t, ok, "an older version never replaces a newer snapshot")
	assert.Equal(t, int64(2), cur.Version)
	assert.True(t, c.Snapshot().Has("q1"))
	assert.False(t, c.Snapshot().Has("q9"))
}

func TestSnapshotSameQuestions(t *testing.T) {
	snap := func(qs []*store.Question) *WeightSnapshot {
		s, _ := NewCatalog().Publish(qs, 1, time.Now())
		return s
	}
	base := snap(testQuestions("q1", "q2", "q3"))

	assert.True(t, base.SameQuestions(snap(testQuestions("q3", "q1", "q2"))), "order does not matter")

	weights := testQuestions("q1", "q2", "q3")
	weights[0].Weight = 5
	assert.True(t, base.SameQuestions(snap(weights)), "weights may differ")

	assert.False(t, base.SameQuestions(snap(testQuestions("q1", "q2", "q4"))), "same size, different keys")
	assert.False(t, base.SameQuestions(snap(testQuestions("q1", "q2"))))
	assert.False(t, base.SameQuestions(nil))

	recat := testQuestions("q1", "q2", "q3")
	recat[2].Category = store.CategoryValues
	assert.False(t, base.SameQuestions(snap(recat)), "a moved category is a different catalog")

	missing := snap(testQuestions("q1", "q2", "q3"))
	delete(missing.Weights, "q2")
	assert.False(t, base.SameQuestions(missing))
}

func TestCatalogCopiesAreIndependent(t *testing.T) {
	c := NewCatalog()
	s, _ := c.Publish(testQuestions("q1"), 1, time.Now())

	w := s.WeightsCopy()
	w["q1"] = 99
	cats := s.CategoriesCopy()
	cats["q1"] = store.CategoryValues

	assert.Equal(t, 3.0, c.Snapshot().Weights["q1"])
	assert.Equal(t, store.CategoryTrust, c.Snapshot().Categories["q1"])
}

func TestCatalogRestoreOnlyNewer(t *testing.T) {
	c := NewCatalog()
	c.Publish(testQuestions("q1"), 2, time.Now())

	assert.False(t, c.Restore(&WeightSnapshot{Version: 1}))
	assert.False(t, c.Restore(&WeightSnapshot{Version: 2}), "an equal version is not newer")
	assert.False(t, c.Restore(nil))
	assert.True(t, c.Restore(&WeightSnapshot{Version: 7, Weights: map[string]float64{}}))
	assert.Equal(t, int64(7), c.Snapshot().Version)
}

func TestCatalogConcurrentReadsSeeWholeSnapshots(t *testing.T) {
	c := NewCatalog()
	low := testQuestions("q1", "q2", "q3")
	high := testQuestions("q1", "q2", "q3")
	for _, q := range high {
		q.Weight = 5
	}
	c.Publish(low, 0, time.Now())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := c.Snapshot()
				first := s.Weights["q1"]
				for _, k := range s.Keys {
					if s.Weights[k] != first {
						select {
						case errs <- errors.New("mixed snapshot observed"):
						default:
						}
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		v := int64(i + 1)
		if i%2 == 0 {
			c.Publish(high, v, time.Now())
		} else {
			c.Publish(low, v, time.Now())
		}
	}
	close(stop)
	wg.Wait()

	select {
	case err := <-errs:
		require.NoError(t, err)
	default:
	}
}

func TestValidateAnswers(t *testing.T) {
	snap, _ := NewCatalog().Publish(testQuestions("q1", "q2"), 1, time.Now())

	tests := []struct {
		name    string
		answers []store.Answer
		max     int
		wantErr string
	}{
		{"valid", []store.Answer{{Key: "q1", Value: 1}, {Key: "q2", Value: 5}}, 65, ""},
		{"empty", nil, 65, "at least one answer"},
		{"duplicate", []store.Answer{{Key: "q1", Value: 2}, {Key: "q1", Value: 3}}, 65, "duplicate key"},
		{"too low", []store.Answer{{Key: "q1", Value: 0}}, 65, "outside [1, 5]"},
		{"too high", []store.Answer{{Key: "q1", Value: 6}}, 65, "outside [1, 5]"},
		{"missing key", []store.Answer{{Value: 3}}, 65, "missing key"},
		{"unknown", []store.Answer{{Key: "nope", Value: 3}}, 65, "unknown question"},
		{"too many", []store.Answer{{Key: "q1", Value: 3}, {Key: "q2", Value: 3}}, 1, "too many answers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswers(tt.answers, tt.max, snap)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAnswersEmptyCatalogAllowsAnyKey(t *testing.T) {
	err := ValidateAnswers([]store.Answer{{Key: "anything", Value: 3}}, 0, NewCatalog().Snapshot())
	assert.NoError(t, err)
}

func TestWeightBoundsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeightBounds().Validate())
	assert.Error(t, WeightBounds{Min: 5, Max: 1, Default: 3}.Validate())
	assert.Error(t, WeightBounds{Min: 1, Max: 5, Default: 7}.Validate())
	assert.Equal(t, 5.0, DefaultWeightBounds().Clamp(9))
	assert.Equal(t, 1.0, DefaultWeightBounds().Clamp(-1))
}
