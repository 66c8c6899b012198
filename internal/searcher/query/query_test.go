package query

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

func TestClauseValidate(t *testing.T) {
	tests := []struct {
		name   string
		clause Clause
		ok     bool
	}{
		{"valid", Clause{Field: "contents", Text: "laptop", Weight: 1}, true},
		{"zero weight", Clause{Field: "contents", Text: "laptop"}, true},
		{"multi word text", Clause{Field: "contents", Text: "gaming laptop", Weight: 1}, true},
		{"empty field", Clause{Text: "laptop", Weight: 1}, false},
		{"blank text", Clause{Field: "contents", Text: "  ", Weight: 1}, false},
		{"analyzed with space", Clause{Field: "contents", Text: "a b", Weight: 1, Analyzed: true}, false},
		{"nan weight", Clause{Field: "contents", Text: "x", Weight: math.NaN()}, false},
		{"inf weight", Clause{Field: "contents", Text: "x", Weight: math.Inf(1)}, false},
		{"negative weight", Clause{Field: "contents", Text: "x", Weight: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.clause.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, apperrors.ErrQueryConstruction), "got %v", err)
		})
	}
}

func TestAndIgnoresEmptySide(t *testing.T) {
	main := Boolean{Clauses: []Clause{{Field: "contents", Text: "laptop", Weight: 1, Occur: Should}}}

	assert.Equal(t, main, main.And(Boolean{}))
	assert.Equal(t, main, Boolean{}.And(main))

	filter := Boolean{Clauses: []Clause{{Field: "contents", Text: "desktop", Weight: 1, Occur: Must}}}
	combined := main.And(filter)
	assert.Len(t, combined.Groups, 2)
	assert.False(t, combined.Empty())
	assert.Equal(t, "+(contents:laptop) +(+contents:desktop)", combined.String())
}

func TestEmptyNested(t *testing.T) {
	assert.True(t, Boolean{Groups: []Boolean{{}, {}}}.Empty())
}
