package scoring

import (
	"fmt"
	"math"
)

// WeightBounds defines the valid range of a question weight and the fallback used
// when a question has no population data.
type WeightBounds struct {
	Min     float64
	Max     float64
	Default float64
}

// DefaultWeightBounds returns the platform bounds: weights live on the 1–5 axis, default 3.
func DefaultWeightBounds() WeightBounds {
	return WeightBounds{Min: 1, Max: 5, Default: 3}
}

// Validate checks that the bounds are ordered and the default lies within them.
func (b WeightBounds) Validate() error {
	if b.Min <= 0 || b.Min > b.Max {
		return fmt.Errorf("weight bounds [%.2f, %.2f] invalid", b.Min, b.Max)
	}
	if b.Default < b.Min || b.Default > b.Max {
		return fmt.Errorf("default weight %.2f outside [%.2f, %.2f]", b.Default, b.Min, b.Max)
	}
	return nil
}

// Clamp limits w to the bounds.
func (b WeightBounds) Clamp(w float64) float64 {
	return clampFloat(w, b.Min, b.Max)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
