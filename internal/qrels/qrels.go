// Package qrels reads relevance judgments: `topic iteration doc grade`,
// whitespace delimited, one judgment per line.
package qrels

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Judgment is one qrels line.
type Judgment struct {
	TopicID    string
	Iteration  string
	DocumentID string
	Grade      int
}

// Parse decodes one qrels line. Fewer than four fields, or a grade that is
// not a non-negative integer, is ErrMalformedLine.
func Parse(line string) (Judgment, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Judgment{}, apperrors.Newf(apperrors.ErrMalformedLine, "qrels.Parse", "expected 4 fields, got %d", len(fields))
	}
	grade, err := strconv.Atoi(fields[3])
	if err != nil {
		return Judgment{}, apperrors.Newf(apperrors.ErrMalformedLine, "qrels.Parse", "grade %q is not an integer", fields[3])
	}
	if grade < 0 {
		return Judgment{}, apperrors.Newf(apperrors.ErrMalformedLine, "qrels.Parse", "grade %d is negative", grade)
	}
	return Judgment{
		TopicID:    fields[0],
		Iteration:  fields[1],
		DocumentID: fields[2],
		Grade:      grade,
	}, nil
}

// Reader streams judgments, skipping and counting malformed lines.
type Reader struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner
	logger  *slog.Logger

	line    int
	read    int64
	skipped int64
	cur     Judgment
	err     error
}

// Open opens a qrels file. A missing file is ErrResourceUnavailable.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "qrels.Open", err.Error()).WithPath(path)
	}
	r := NewReader(f, path)
	r.closer = f
	return r, nil
}

func NewReader(src io.Reader, name string) *Reader {
	return &Reader{
		name:    name,
		scanner: bufio.NewScanner(src),
		logger:  slog.Default().With("component", "qrels-reader"),
	}
}

func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		r.read++
		j, err := Parse(text)
		if err != nil {
			r.skipped++
			r.logger.Warn("skipping malformed qrels line",
				"path", r.name,
				"line", r.line,
				"error", err,
			)
			continue
		}
		r.cur = j
		return true
	}
	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("reading %s after line %d: %w", r.name, r.line, err)
	}
	return false
}

func (r *Reader) Judgment() Judgment { return r.cur }
func (r *Reader) Err() error { return r.err }
func (r *Reader) LinesRead() int64 { return r.read }
func (r *Reader) Skipped() int64 { return r.skipped }

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
