// Package runfile models TREC run files: one ranked result per line as
// `topic Q0 doc rank score tag`. Writers always emit tabs with six decimal
// places; readers accept tabs or runs of spaces.
package runfile

import (
	"math"
	"strconv"
	"strings"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// DefaultIteration is the literal written in the second column.
const DefaultIteration = "Q0"

// Entry is one line of a run file.
type Entry struct {
	TopicID    string  `json:"topic_id"`
	Iteration  string  `json:"iteration,omitempty"`
	DocumentID string  `json:"doc_id"`
	Rank       int     `json:"rank"`
	Score      float64 `json:"score"`
	RunTag     string  `json:"run_tag"`
}

// Delimiter selects how a line is split into fields.
type Delimiter int

const (
	// DelimiterAuto splits on any run of tabs and spaces, so lines mixing
	// both still parse.
	DelimiterAuto Delimiter = iota
	// DelimiterTab splits on tabs only and keeps spaces inside fields.
	DelimiterTab
	// DelimiterSpace splits on runs of spaces only and keeps tabs inside fields.
	DelimiterSpace
)

// ParseDelimiter maps "auto", "tab" and "space" to a Delimiter.
func ParseDelimiter(s string) (Delimiter, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return DelimiterAuto, nil
	case "tab", `\t`:
		return DelimiterTab, nil
	case "space", " ":
		return DelimiterSpace, nil
	default:
		return DelimiterAuto, apperrors.Newf(apperrors.ErrInvalidInput, "runfile.ParseDelimiter", "unknown delimiter %q", s)
	}
}

// Parse decodes one run line, detecting the delimiter.
func Parse(line string) (Entry, error) {
	return ParseWith(line, DelimiterAuto)
}

// ParseWith decodes one run line using delim. Lines with fewer than five
// fields, a rank below 1, or a non-numeric rank or score are ErrMalformedLine.
func ParseWith(line string, delim Delimiter) (Entry, error) {
	fields := split(strings.TrimRight(line, "\r\n"), delim)
	if len(fields) < 5 {
		return Entry{}, apperrors.Newf(apperrors.ErrMalformedLine, "runfile.Parse", "expected at least 5 fields, got %d", len(fields))
	}

	rank, err := strconv.Atoi(fields[3])
	if err != nil {
		return Entry{}, apperrors.Newf(apperrors.ErrMalformedLine, "runfile.Parse", "rank %q is not an integer", fields[3])
	}
	if rank < 1 {
		return Entry{}, apperrors.Newf(apperrors.ErrMalformedLine, "runfile.Parse", "rank %d is below 1", rank)
	}
	score, err := strconv.ParseFloat(fields[4], 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		return Entry{}, apperrors.Newf(apperrors.ErrMalformedLine, "runfile.Parse", "score %q is not a finite number", fields[4])
	}
	if fields[0] == "" || fields[2] == "" {
		return Entry{}, apperrors.New(apperrors.ErrMalformedLine, "runfile.Parse", "empty topic or document id")
	}

	e := Entry{
		TopicID:    fields[0],
		Iteration:  fields[1],
		DocumentID: fields[2],
		Rank:       rank,
		Score:      score,
	}
	if len(fields) >= 6 {
		e.RunTag = fields[5]
	}
	return e, nil
}

func split(line string, delim Delimiter) []string {
	switch delim {
	case DelimiterTab:
		return splitTabs(line)
	case DelimiterSpace:
		return strings.FieldsFunc(line, func(r rune) bool { return r == ' ' })
	default:
		return strings.Fields(line)
	}
}

func splitTabs(line string) []string {
	parts := strings.Split(line, "\t")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Format renders e as a tab-delimited line with a trailing newline. The
// score always has six decimal places regardless of locale.
func Format(e Entry) string {
	return string(AppendFormat(make([]byte, 0, 64), e))
}

// AppendFormat appends the formatted line to dst.
func AppendFormat(dst []byte, e Entry) []byte {
	iter := e.Iteration
	if iter == "" {
		iter = DefaultIteration
	}
	dst = append(dst, e.TopicID...)
	dst = append(dst, '\t')
	dst = append(dst, iter...)
	dst = append(dst, '\t')
	dst = append(dst, e.DocumentID...)
	dst = append(dst, '\t')
	dst = strconv.AppendInt(dst, int64(e.Rank), 10)
	dst = append(dst, '\t')
	dst = strconv.AppendFloat(dst, e.Score, 'f', 6, 64)
	dst = append(dst, '\t')
	dst = append(dst, e.RunTag...)
	dst = append(dst, '\n')
	return dst
}

// CompareTopicIDs orders topic ids numerically when both are integers.
// Numeric ids sort before non-numeric ones; the rest compare as strings.
func CompareTopicIDs(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return strings.Compare(a, b)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
