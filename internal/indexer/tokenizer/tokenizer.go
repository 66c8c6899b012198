// Package tokenizer provides text analysis for the index and for queries.
// It lower-cases input, strips English possessives, splits on
// non-alphanumeric boundaries, collapses runs of three or more identical
// characters, removes stop-words and optionally applies a simple
// suffix-based stemmer.
package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

var defaultStopWords = []string{
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he",
	"in", "is", "it", "its", "of", "on",
	"or", "that", "the", "to", "was", "were",
	"will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where",
	"who", "which", "their", "if", "each",
	"do", "not", "no", "so", "can", "there",
	"these", "such", "into", "then", "than",
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Analyzer turns text into tokens. The same Analyzer must be used at index
// and query time. It is safe for concurrent use.
type Analyzer struct {
	stopWords map[string]struct{}
	stem      bool
	minLength int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithStopWords replaces the built-in stop list.
func WithStopWords(words []string) Option {
	return func(a *Analyzer) {
		a.stopWords = make(map[string]struct{}, len(words))
		for _, w := range words {
			a.stopWords[strings.ToLower(w)] = struct{}{}
		}
	}
}

func WithStemming(enabled bool) Option {
	return func(a *Analyzer) { a.stem = enabled }
}

// WithMinLength drops tokens shorter than n runes.
func WithMinLength(n int) Option {
	return func(a *Analyzer) { a.minLength = n }
}

func New(opts ...Option) *Analyzer {
	a := &Analyzer{stem: true, minLength: 2}
	WithStopWords(defaultStopWords)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAnalyzer = New()

// Tokenize analyzes text with the default analyzer.
func Tokenize(text string) []Token {
	return defaultAnalyzer.Analyze(text)
}

// Analyze breaks text into a slice of normalised Tokens. Positions count
// emitted tokens only.
func (a *Analyzer) Analyze(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	tokens := make([]Token, 0, len(words)/2)
	pos := 0
	for _, word := range words {
		word = stripPossessive(word)
		word = strings.Trim(word, "'’")
		word = collapseRuns(word)
		if len([]rune(word)) < a.minLength {
			continue
		}
		if _, isStop := a.stopWords[word]; isStop {
			continue
		}
		if a.stem {
			word = stem(word)
		}
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms returns only the analyzed term strings.
func (a *Analyzer) Terms(text string) []string {
	tokens := a.Analyze(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// stripPossessive removes a trailing 's and splits contractions such as
// "user's" to "user". Apostrophes inside other words are dropped.
func stripPossessive(word string) string {
	for _, suffix := range []string{"'s", "’s"} {
		if strings.HasSuffix(word, suffix) {
			word = strings.TrimSuffix(word, suffix)
			break
		}
	}
	return strings.NewReplacer("'", "", "’", "").Replace(word)
}

// collapseRuns drops every character that would make a run of three
// identical characters, so "sooooo" becomes "soo".
func collapseRuns(word string) string {
	r := []rune(word)
	if len(r) <= 2 {
		return word
	}
	out := make([]rune, 2, len(r))
	copy(out, r[:2])
	for i := 2; i < len(r); i++ {
		if r[i-2] == r[i-1] && r[i-1] == r[i] {
			continue
		}
		out = append(out, r[i])
	}
	return string(out)
}

// LoadStopList reads one stop word per line; blank lines and lines starting
// with # are ignored.
func LoadStopList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening stop list: %w", err)
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading stop list %s: %w", path, err)
	}
	return words, nil
}

// stem applies a simple suffix-stripping stemmer to the given word.
func stem(word string) string {
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}

var suffixRules = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}
