package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

func testQuestions(keys ...string) []*store.Question {
	out := make([]*store.Question, len(keys))
	for i, k := range keys {
		out[i] = &store.Question{Key: k, Category: store.CategoryTrust, DefaultWeight: 3, Weight: 3, Active: true}
	}
	return out
}

func rating(user, key string, v int) store.ImportanceRating {
	return store.ImportanceRating{UserID: user, QuestionKey: key, Importance: v}
}

func byKey(rep *NormalizeReport) map[string]QuestionWeight {
	out := make(map[string]QuestionWeight, len(rep.Questions))
	for _, q := range rep.Questions {
		out[q.Key] = q
	}
	return out
}

func TestNormalizeNoRatingsKeepsDefaults(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	qs := testQuestions("q1", "q2")
	qs[1].DefaultWeight = 4.5

	rep := n.Compute(qs, nil)

	got := byKey(rep)
	assert.Equal(t, 3.0, got["q1"].Weight)
	assert.Equal(t, 4.5, got["q2"].Weight)
	assert.Equal(t, SourceDefault, got["q1"].Source)
	assert.Zero(t, rep.Ratings)
}

func TestNormalizeZScore(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	ratings := []store.ImportanceRating{
		rating("u1", "q1", 5), rating("u1", "q2", 1),
		rating("u2", "q1", 4), rating("u2", "q2", 2),
	}

	rep := n.Compute(testQuestions("q1", "q2", "q3"), ratings)
	got := byKey(rep)

	assert.Equal(t, 3.0, rep.GlobalMean)
	assert.InDelta(t, 1.8257, rep.GlobalStdDev, 0.0001)
	assert.Equal(t, 4.29, got["q1"].Weight)
	assert.Equal(t, 1.71, got["q2"].Weight)
	assert.Equal(t, 2, got["q1"].ZScoreCount)
	assert.InDelta(t, 0.7071, got["q1"].AvgZ, 0.0001)
	assert.Equal(t, SourceNormalized, got["q1"].Source)

	assert.Equal(t, 3.0, got["q3"].Weight, "unrated question keeps its default")
	assert.Equal(t, SourceDefault, got["q3"].Source)
}

func TestNormalizeFlatRaterHasNoInfluence(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	base := []store.ImportanceRating{
		rating("u1", "q1", 5), rating("u1", "q2", 1),
		rating("u2", "q1", 4), rating("u2", "q2", 2),
	}
	withFlat := append(append([]store.ImportanceRating{}, base...),
		rating("flat", "q1", 3), rating("flat", "q2", 3))

	before := byKey(n.Compute(testQuestions("q1", "q2"), base))
	rep := n.Compute(testQuestions("q1", "q2"), withFlat)
	after := byKey(rep)

	assert.Equal(t, 1, rep.FlatUsers)
	for _, k := range []string{"q1", "q2"} {
		assert.Equal(t, before[k].AvgZ, after[k].AvgZ, k)
		assert.Equal(t, before[k].ZScoreCount, after[k].ZScoreCount, k)
		assert.Equal(t, before[k].RaterCount+1, after[k].RaterCount, k)
	}
}

func TestNormalizeSingleRatingUserExcluded(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	rep := n.Compute(testQuestions("q1"), []store.ImportanceRating{rating("solo", "q1", 5)})
	got := byKey(rep)

	assert.Equal(t, 1, rep.ExcludedUsers)
	assert.Equal(t, 1.0, rep.GlobalStdDev)
	assert.Equal(t, 0, got["q1"].ZScoreCount)
	assert.Equal(t, 3.0, got["q1"].Weight, "no usable z-scores keeps the previous weight")
	assert.Equal(t, SourcePrevious, got["q1"].Source)
	assert.Empty(t, rep.Failed)
}

func TestNormalizeOnlyFlatRatersKeepPreviousWeight(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	qs := testQuestions("q1", "q2", "q3")
	qs[0].Weight = 4.2
	qs[1].Weight = 1.8
	rep := n.Compute(qs, []store.ImportanceRating{
		rating("flat1", "q1", 5), rating("flat1", "q2", 5),
		rating("flat2", "q1", 2), rating("flat2", "q2", 2),
	})
	got := byKey(rep)

	assert.Equal(t, 2, rep.FlatUsers)
	assert.Equal(t, 4.2, got["q1"].Weight)
	assert.Equal(t, 1.8, got["q2"].Weight)
	for _, k := range []string{"q1", "q2"} {
		assert.Equal(t, SourcePrevious, got[k].Source, k)
		assert.Equal(t, 2, got[k].RaterCount, k)
		assert.Zero(t, got[k].ZScoreCount, k)
	}
	assert.Equal(t, SourceDefault, got["q3"].Source)
	assert.Empty(t, rep.Failed)
	assert.Empty(t, rep.Changed(), "nothing moves without a relative signal")
}

func TestNormalizeWeightsWithinBounds(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	var ratings []store.ImportanceRating
	users := []string{"a", "b", "c", "d", "e"}
	keys := []string{"q1", "q2", "q3", "q4"}
	for i, u := range users {
		for j, k := range keys {
			ratings = append(ratings, rating(u, k, 1+(i*3+j*2)%5))
		}
	}
	// a user who loves one question and nothing else
	ratings = append(ratings, rating("z", "q1", 5), rating("z", "q2", 1), rating("z", "q3", 1), rating("z", "q4", 1))

	rep := n.Compute(testQuestions(keys...), ratings)
	for _, q := range rep.Questions {
		assert.GreaterOrEqual(t, q.Weight, 1.0, q.Key)
		assert.LessOrEqual(t, q.Weight, 5.0, q.Key)
	}
}

func TestNormalizeDropsOutOfRangeRatings(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	rep := n.Compute(testQuestions("q1"), []store.ImportanceRating{
		rating("u1", "q1", 9),
		rating("u1", "q1", 0),
	})
	assert.Equal(t, 2, rep.DroppedRatings)
	assert.Equal(t, SourceDefault, rep.Questions[0].Source)
}

func TestNormalizeMeanMode(t *testing.T) {
	cfg := DefaultNormalizerConfig()
	cfg.Mode = ModeMean
	n := NewNormalizer(cfg)
	rep := n.Compute(testQuestions("q1", "q2"), []store.ImportanceRating{
		rating("u1", "q1", 5), rating("u1", "q2", 1),
		rating("u2", "q1", 4), rating("u2", "q2", 2),
	})
	got := byKey(rep)
	assert.Equal(t, ModeMean, rep.Mode)
	assert.Equal(t, 4.5, got["q1"].Weight)
	assert.Equal(t, 1.5, got["q2"].Weight)
}

func TestNormalizeReportChanged(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	rep := n.Compute(testQuestions("q1", "q2"), []store.ImportanceRating{
		rating("u1", "q1", 5), rating("u1", "q2", 1),
	})
	changed := rep.Changed()
	require.Len(t, changed, 2)
	assert.Equal(t, map[string]float64{"q1": changed[0].Weight, "q2": changed[1].Weight}, rep.Weights())
}

func TestMeanStdDev(t *testing.T) {
	m, sd := meanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, m)
	assert.InDelta(t, 2.138, sd, 0.001)

	m, sd = meanStdDev([]float64{4})
	assert.Equal(t, 4.0, m)
	assert.Zero(t, sd)
}
