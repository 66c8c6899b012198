// Package parser turns free text, such as a topic title, into a
// multi-field disjunctive query.
package parser

import (
	"sort"

	"github.com/kueri-lab/trecpipe/internal/indexer/tokenizer"
	"github.com/kueri-lab/trecpipe/internal/searcher/query"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

type Parser struct {
	analyzer *tokenizer.Analyzer
	fields   []string
	weights  map[string]float64
}

// New returns a parser that searches every field in weights, boosting each
// field's clauses by its weight. Fields with a non-positive weight are
// ignored.
func New(analyzer *tokenizer.Analyzer, weights map[string]float64) *Parser {
	p := &Parser{analyzer: analyzer, weights: make(map[string]float64, len(weights))}
	for field, w := range weights {
		if w <= 0 {
			continue
		}
		p.fields = append(p.fields, field)
		p.weights[field] = w
	}
	sort.Strings(p.fields)
	return p
}

// Parse analyzes text once and emits one SHOULD clause per distinct term
// and field. Repeated terms raise the clause weight. Text with no
// searchable term is an ErrQueryConstruction.
func (p *Parser) Parse(text string) (query.Boolean, error) {
	var q query.Boolean
	if len(p.fields) == 0 {
		return q, apperrors.New(apperrors.ErrQueryConstruction, "parser.Parse", "no searchable fields configured")
	}
	counts := make(map[string]int)
	var order []string
	for _, term := range p.analyzer.Terms(text) {
		if counts[term] == 0 {
			order = append(order, term)
		}
		counts[term]++
	}
	if len(order) == 0 {
		return q, apperrors.Newf(apperrors.ErrQueryConstruction, "parser.Parse", "no searchable terms in %q", text)
	}
	for _, term := range order {
		for _, field := range p.fields {
			q.Add(query.Clause{
				Field:    field,
				Text:     term,
				Weight:   p.weights[field] * float64(counts[term]),
				Occur:    query.Should,
				Analyzed: true,
			})
		}
	}
	return q, nil
}
