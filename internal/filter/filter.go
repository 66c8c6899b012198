// Package filter builds conjunctive or disjunctive query fragments from a
// free-text phrase, such as the comparison objects of a topic.
package filter

import (
	"fmt"
	"strings"

	"github.com/kueri-lab/trecpipe/internal/searcher/query"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Mode selects how the phrase's tokens combine.
type Mode int

const (
	// And requires every token.
	And Mode = iota
	// Or requires at least one token.
	Or
)

func (m Mode) String() string {
	switch m {
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) occur() query.Occur {
	if m == And {
		return query.Must
	}
	return query.Should
}

// ParseMode accepts "and" or "or", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "and":
		return And, nil
	case "or":
		return Or, nil
	default:
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, "filter.ParseMode", "unknown filter mode %q, want and or or", s)
	}
}

// Tokens strips commas and splits the phrase on whitespace.
func Tokens(phrase string) []string {
	return strings.Fields(strings.ReplaceAll(phrase, ",", ""))
}

// Build returns one clause per token of phrase on field. A blank phrase
// yields an empty fragment, which query.Boolean.And ignores.
func Build(mode Mode, phrase, field string) query.Boolean {
	var fragment query.Boolean
	for _, token := range Tokens(phrase) {
		fragment.Add(query.Clause{
			Field:  field,
			Text:   token,
			Weight: 1,
			Occur:  mode.occur(),
		})
	}
	return fragment
}
