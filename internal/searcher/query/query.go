// Package query holds the weighted boolean query model shared by the title
// parser, the filter builder, the feedback builder and the executor.
package query

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Occur says whether a clause is required or optional.
type Occur int

const (
	Must Occur = iota
	Should
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "MUST"
	case Should:
		return "SHOULD"
	default:
		return fmt.Sprintf("Occur(%d)", int(o))
	}
}

// Clause matches documents whose Field contains Text. Unless Analyzed is
// set, Text goes through the index analyzer first and may expand to several
// terms; an Analyzed clause is a single index term matched verbatim.
type Clause struct {
	Field    string
	Text     string
	Weight   float64
	Occur    Occur
	Analyzed bool
}

// Validate reports why a clause cannot be executed.
func (c Clause) Validate() error {
	const op = "query.Clause"
	switch {
	case c.Field == "":
		return apperrors.New(apperrors.ErrQueryConstruction, op, "empty field")
	case strings.TrimSpace(c.Text) == "":
		return apperrors.New(apperrors.ErrQueryConstruction, op, "empty text")
	case c.Analyzed && strings.IndexFunc(c.Text, unicode.IsSpace) >= 0:
		return apperrors.Newf(apperrors.ErrQueryConstruction, op, "term %q contains whitespace", c.Text)
	case math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) || c.Weight < 0:
		return apperrors.Newf(apperrors.ErrQueryConstruction, op, "invalid weight %v", c.Weight)
	}
	return nil
}

func (c Clause) String() string {
	s := c.Field + ":" + c.Text
	if c.Weight != 1 {
		s += fmt.Sprintf("^%g", c.Weight)
	}
	if c.Occur == Must {
		return "+" + s
	}
	return s
}

// Boolean is a weighted boolean query. Groups are nested queries that must
// all match; a document matches when it satisfies every MUST clause and
// group, or, without any of those, at least one SHOULD clause.
type Boolean struct {
	Clauses []Clause
	Groups  []Boolean
}

func (b *Boolean) Add(c Clause) {
	b.Clauses = append(b.Clauses, c)
}

// Empty reports whether b has nothing to match on.
func (b Boolean) Empty() bool {
	for _, g := range b.Groups {
		if !g.Empty() {
			return false
		}
	}
	return len(b.Clauses) == 0
}

// And returns a query requiring both b and other. An empty side is ignored.
func (b Boolean) And(other Boolean) Boolean {
	switch {
	case other.Empty():
		return b
	case b.Empty():
		return other
	}
	return Boolean{Groups: []Boolean{b, other}}
}

func (b Boolean) String() string {
	parts := make([]string, 0, len(b.Clauses)+len(b.Groups))
	for _, c := range b.Clauses {
		parts = append(parts, c.String())
	}
	for _, g := range b.Groups {
		parts = append(parts, "+("+g.String()+")")
	}
	return strings.Join(parts, " ")
}

// Hit is one scored document. Doc is the index ordinal, DocID the external
// collection id.
type Hit struct {
	Doc   int     `json:"-"`
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}
