package feedback

import (
	"log/slog"
	"sort"

	"github.com/kueri-lab/trecpipe/internal/searcher/query"
)

// BuildQuery turns one topic's grade terms into a weighted disjunction on
// field. Every (grade, term) pair becomes a SHOULD clause weighted
// freq * grade², matched verbatim since terms come from term vectors.
// Grade 0 terms carry no weight and are left out. Clauses that fail
// validation are dropped; the returned count says how many.
func BuildQuery(terms GradeTerms, field string) (query.Boolean, int) {
	var q query.Boolean
	dropped := 0
	for _, grade := range terms.Grades() {
		if grade == 0 {
			continue
		}
		boost := float64(grade * grade)
		words := make([]string, 0, len(terms[grade]))
		for term := range terms[grade] {
			words = append(words, term)
		}
		sort.Strings(words)
		for _, term := range words {
			c := query.Clause{
				Field:    field,
				Text:     term,
				Weight:   float64(terms[grade][term]) * boost,
				Occur:    query.Should,
				Analyzed: true,
			}
			if c.Weight == 0 {
				continue
			}
			if err := c.Validate(); err != nil {
				dropped++
				slog.Debug("dropping feedback clause", "term", term, "grade", grade, "error", err)
				continue
			}
			q.Add(c)
		}
	}
	return q, dropped
}
