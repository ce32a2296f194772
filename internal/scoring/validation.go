package scoring

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

const (
	MinAnswerValue = 1
	MaxAnswerValue = 5
)

// ValidationError reports every problem found in a submitted AnswerSet.
type ValidationError struct {
	Problems []string `json:"problems"`
}

func (e *ValidationError) Error() string {
	return "invalid answer set: " + strings.Join(e.Problems, "; ")
}

// ValidateAnswers rejects an AnswerSet before any computation. When snapshot has
// active questions, every key must belong to it.
func ValidateAnswers(answers []store.Answer, maxAnswers int, snapshot *WeightSnapshot) error {
	var problems []string

	if len(answers) == 0 {
		problems = append(problems, "at least one answer is required")
	}
	if maxAnswers > 0 && len(answers) > maxAnswers {
		problems = append(problems, fmt.Sprintf("too many answers: %d > %d", len(answers), maxAnswers))
	}

	seen := make(map[string]bool, len(answers))
	for i, a := range answers {
		if a.Key == "" {
			problems = append(problems, fmt.Sprintf("answer %d: missing key", i))
			continue
		}
		if seen[a.Key] {
			problems = append(problems, fmt.Sprintf("answer %d: duplicate key %q", i, a.Key))
		}
		seen[a.Key] = true
		if a.Value < MinAnswerValue || a.Value > MaxAnswerValue {
			problems = append(problems, fmt.Sprintf("answer %d: value %d for %q outside [%d, %d]",
				i, a.Value, a.Key, MinAnswerValue, MaxAnswerValue))
		}
		if snapshot != nil && snapshot.Len() > 0 && !snapshot.Has(a.Key) {
			problems = append(problems, fmt.Sprintf("answer %d: unknown question %q", i, a.Key))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
