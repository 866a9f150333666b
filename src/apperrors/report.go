package apperrors

import (
	"sort"

	"github.com/username/opsledger/src/models"
)

// Report aggregates the failures of one batch.
type Report struct {
	failures []models.ItemFailure
	counts   map[Category]int
}

func NewReport() *Report {
	return &Report{counts: make(map[Category]int)}
}

// Add records err against subject. Subject falls back to the error's own subject.
func (r *Report) Add(subject string, err error) {
	if err == nil {
		return
	}
	category := Classify(err)
	if subject == "" {
		subject = SubjectOf(err)
	}
	r.failures = append(r.failures, models.ItemFailure{
		Subject:     subject,
		Category:    string(category),
		Message:     UserMessage(err),
		Recoverable: category.Recoverable(),
	})
	r.counts[category]++
}

func (r *Report) Len() int { return len(r.failures) }

func (r *Report) Count(category Category) int { return r.counts[category] }

// Failures returns a copy of the recorded failures in insertion order.
func (r *Report) Failures() []models.ItemFailure {
	out := make([]models.ItemFailure, len(r.failures))
	copy(out, r.failures)
	return out
}

// ErrorRate is the share of failures over total processed subjects, as a percentage.
func (r *Report) ErrorRate(total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(len(r.failures)) / float64(total) * 100
}

// MostFrequent returns the category with the most failures. Ties break by name so
// the answer is stable.
func (r *Report) MostFrequent() Category {
	var categories []Category
	for c := range r.counts {
		categories = append(categories, c)
	}
	if len(categories) == 0 {
		return ""
	}
	sort.Slice(categories, func(i, j int) bool {
		if r.counts[categories[i]] != r.counts[categories[j]] {
			return r.counts[categories[i]] > r.counts[categories[j]]
		}
		return categories[i] < categories[j]
	})
	return categories[0]
}

// Summary builds the operator-facing digest.
func (r *Report) Summary(total int) models.ErrorSummary {
	byCategory := make(map[string]int, len(r.counts))
	for c, n := range r.counts {
		byCategory[string(c)] = n
	}
	return models.ErrorSummary{
		Total:        len(r.failures),
		ByCategory:   byCategory,
		ErrorRate:    r.ErrorRate(total),
		MostFrequent: string(r.MostFrequent()),
	}
}
