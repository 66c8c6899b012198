package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kueri-lab/trecpipe/internal/searcher/query"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		phrase string
		want   []string
		occur  query.Occur
	}{
		{"and", And, "laptop, desktop", []string{"laptop", "desktop"}, query.Must},
		{"or", Or, "Python,  Java  ", []string{"Python", "Java"}, query.Should},
		{"commas only", And, ",,,", nil, query.Must},
		{"tabs", Or, "cats\tdogs", []string{"cats", "dogs"}, query.Should},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Build(tt.mode, tt.phrase, "contents")
			var texts []string
			for _, c := range q.Clauses {
				texts = append(texts, c.Text)
				assert.Equal(t, tt.occur, c.Occur)
				assert.Equal(t, "contents", c.Field)
				assert.False(t, c.Analyzed)
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestBuildEmptyPhrase(t *testing.T) {
	for _, phrase := range []string{"", "   ", "\n"} {
		for _, mode := range []Mode{And, Or} {
			q := Build(mode, phrase, "contents")
			assert.Empty(t, q.Clauses)
			assert.True(t, q.Empty())
		}
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" AND ")
	require.NoError(t, err)
	assert.Equal(t, And, m)

	m, err = ParseMode("or")
	require.NoError(t, err)
	assert.Equal(t, Or, m)
	assert.Equal(t, "or", m.String())

	_, err = ParseMode("xor")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
