package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

// Mode selects how importance ratings become weights.
type Mode string

const (
	// ModeZScore removes each rater's personal bias before pooling.
	ModeZScore Mode = "zscore"
	// ModeMean uses the plain mean of raw ratings per question.
	ModeMean Mode = "mean"
)

func (m Mode) Valid() bool {
	return m == ModeZScore || m == ModeMean
}

// WeightSource records where a question's weight came from in one computation.
type WeightSource string

const (
	SourceNormalized WeightSource = "normalized"
	SourceDefault    WeightSource = "default"
	SourcePrevious   WeightSource = "previous"
)

// QuestionWeight is the per-question outcome of a normalization run.
type QuestionWeight struct {
	Key         string       `json:"key"`
	Weight      float64      `json:"weight"`
	Previous    float64      `json:"previous"`
	Source      WeightSource `json:"source"`
	RaterCount  int          `json:"rater_count"`
	ZScoreCount int          `json:"zscore_count"`
	AvgZ        float64      `json:"avg_z"`
	Error       string       `json:"error,omitempty"`
}

// NormalizeReport describes one full recomputation.
type NormalizeReport struct {
	Mode           Mode             `json:"mode"`
	Ratings        int              `json:"ratings"`
	DroppedRatings int              `json:"dropped_ratings"`
	Users          int              `json:"users"`
	ExcludedUsers  int              `json:"excluded_users"`
	FlatUsers      int              `json:"flat_users"`
	GlobalMean     float64          `json:"global_mean"`
	GlobalStdDev   float64          `json:"global_stddev"`
	Questions      []QuestionWeight `json:"questions"`
	Failed         []string         `json:"failed,omitempty"`
}

// Weights returns the computed weight per question key.
func (r *NormalizeReport) Weights() map[string]float64 {
	out := make(map[string]float64, len(r.Questions))
	for _, q := range r.Questions {
		out[q.Key] = q.Weight
	}
	return out
}

// Changed returns the questions whose weight differs from the previous value.
func (r *NormalizeReport) Changed() []QuestionWeight {
	var out []QuestionWeight
	for _, q := range r.Questions {
		if q.Weight != q.Previous {
			out = append(out, q)
		}
	}
	return out
}

type NormalizerConfig struct {
	Bounds        WeightBounds
	ImportanceMin int
	ImportanceMax int
	Mode          Mode
}

func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		Bounds:        DefaultWeightBounds(),
		ImportanceMin: 1,
		ImportanceMax: 5,
		Mode:          ModeZScore,
	}
}

// Normalizer computes question weights from the full population of importance ratings.
type Normalizer struct {
	cfg NormalizerConfig
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if !cfg.Mode.Valid() {
		cfg.Mode = ModeZScore
	}
	if cfg.ImportanceMin == 0 && cfg.ImportanceMax == 0 {
		cfg.ImportanceMin, cfg.ImportanceMax = 1, 5
	}
	return &Normalizer{cfg: cfg}
}

// userStats holds one rater's sample mean and standard deviation.
type userStats struct {
	mean, stddev float64
	eligible     bool
}

// Compute derives a weight for every question. Questions nobody rated get their
// default weight. A question whose computation fails keeps its previous weight and
// is listed in Failed; the rest of the run still completes.
func (n *Normalizer) Compute(questions []*store.Question, ratings []store.ImportanceRating) *NormalizeReport {
	rep := &NormalizeReport{Mode: n.cfg.Mode}

	valid := make([]store.ImportanceRating, 0, len(ratings))
	for _, r := range ratings {
		if r.Importance < n.cfg.ImportanceMin || r.Importance > n.cfg.ImportanceMax {
			rep.DroppedRatings++
			continue
		}
		valid = append(valid, r)
	}
	rep.Ratings = len(valid)

	byUser := make(map[string][]float64)
	byQuestion := make(map[string][]store.ImportanceRating)
	all := make([]float64, 0, len(valid))
	for _, r := range valid {
		v := float64(r.Importance)
		byUser[r.UserID] = append(byUser[r.UserID], v)
		byQuestion[r.QuestionKey] = append(byQuestion[r.QuestionKey], r)
		all = append(all, v)
	}
	rep.Users = len(byUser)

	stats := make(map[string]userStats, len(byUser))
	for user, vals := range byUser {
		if len(vals) < 2 {
			rep.ExcludedUsers++
			stats[user] = userStats{}
			continue
		}
		mean, sd := meanStdDev(vals)
		if sd == 0 {
			rep.FlatUsers++
		}
		stats[user] = userStats{mean: mean, stddev: sd, eligible: sd > 0}
	}

	if len(all) > 0 {
		rep.GlobalMean, rep.GlobalStdDev = meanStdDev(all)
		if len(all) == 1 {
			rep.GlobalStdDev = 1
		}
	}

	for _, q := range questions {
		qw := QuestionWeight{Key: q.Key, Previous: q.Weight}
		qr := byQuestion[q.Key]
		qw.RaterCount = len(qr)

		if len(qr) == 0 {
			qw.Weight = n.defaultFor(q)
			qw.Source = SourceDefault
			rep.Questions = append(rep.Questions, qw)
			continue
		}

		var raw float64
		switch n.cfg.Mode {
		case ModeMean:
			vals := make([]float64, len(qr))
			for i, r := range qr {
				vals[i] = float64(r.Importance)
			}
			raw, _ = meanStdDev(vals)
		default:
			var zsum float64
			for _, r := range qr {
				us := stats[r.UserID]
				if !us.eligible {
					continue
				}
				zsum += (float64(r.Importance) - us.mean) / us.stddev
				qw.ZScoreCount++
			}
			// every rater answered flat: there is no relative signal to apply
			if qw.ZScoreCount == 0 {
				qw.Weight = n.previousFor(q)
				qw.Source = SourcePrevious
				rep.Questions = append(rep.Questions, qw)
				continue
			}
			qw.AvgZ = zsum / float64(qw.ZScoreCount)
			raw = rep.GlobalMean + qw.AvgZ*rep.GlobalStdDev
		}

		if !finite(raw) {
			qw.Error = fmt.Sprintf("non-finite weight %v", raw)
			qw.Weight = n.previousFor(q)
			qw.Source = SourcePrevious
			rep.Failed = append(rep.Failed, q.Key)
			rep.Questions = append(rep.Questions, qw)
			continue
		}

		qw.AvgZ = round4(qw.AvgZ)
		qw.Weight = round2(n.cfg.Bounds.Clamp(raw))
		qw.Source = SourceNormalized
		rep.Questions = append(rep.Questions, qw)
	}

	sort.Strings(rep.Failed)
	return rep
}

func (n *Normalizer) defaultFor(q *store.Question) float64 {
	if finite(q.DefaultWeight) && q.DefaultWeight > 0 {
		return n.cfg.Bounds.Clamp(q.DefaultWeight)
	}
	return n.cfg.Bounds.Default
}

func (n *Normalizer) previousFor(q *store.Question) float64 {
	if finite(q.Weight) && q.Weight >= n.cfg.Bounds.Min && q.Weight <= n.cfg.Bounds.Max {
		return q.Weight
	}
	return n.defaultFor(q)
}

// meanStdDev returns the mean and the sample (n-1) standard deviation of vals.
// The deviation of a single value is zero.
func meanStdDev(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(vals)-1))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
