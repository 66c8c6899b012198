package runfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

const maxLineSize = 1 << 20

// Reader streams entries from a run file. It is a lazy, finite, one-shot
// sequence: malformed lines are logged with their line number, counted and
// skipped; blank lines are ignored.
type Reader struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner
	delim   Delimiter
	logger  *slog.Logger
	onSkip  func(line int, err error)

	line    int
	read    int64
	skipped int64
	cur     Entry
	err     error
}

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithDelimiter forces a delimiter instead of detecting it per line.
func WithDelimiter(d Delimiter) ReaderOption {
	return func(r *Reader) { r.delim = d }
}

// WithSkipHook is called for every skipped line, after it is logged.
func WithSkipHook(fn func(line int, err error)) ReaderOption {
	return func(r *Reader) { r.onSkip = fn }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// Open opens path for streaming. A missing or unreadable file is
// ErrResourceUnavailable.
func Open(path string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "runfile.Open", err.Error()).WithPath(path)
	}
	r := NewReader(f, path, opts...)
	r.closer = f
	return r, nil
}

// NewReader streams entries from src; name identifies it in logs.
func NewReader(src io.Reader, name string, opts ...ReaderOption) *Reader {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	r := &Reader{
		name:    name,
		scanner: sc,
		logger:  slog.Default().With("component", "runfile-reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next advances to the next well-formed entry.
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
		e, err := ParseWith(text, r.delim)
		if err != nil {
			r.skip(err)
			continue
		}
		r.cur = e
		return true
	}
	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("reading %s after line %d: %w", r.name, r.line, err)
	}
	return false
}

func (r *Reader) skip(err error) {
	r.skipped++
	r.logger.Warn("skipping malformed run line",
		"path", r.name,
		"line", r.line,
		"error", err,
	)
	if r.onSkip != nil {
		r.onSkip(r.line, err)
	}
}

// Entry returns the entry produced by the last successful Next.
func (r *Reader) Entry() Entry {
	return r.cur
}

func (r *Reader) Err() error {
	return r.err
}

// LinesRead counts non-blank lines seen so far, including skipped ones.
func (r *Reader) LinesRead() int64 {
	return r.read
}

func (r *Reader) Skipped() int64 {
	return r.skipped
}

func (r *Reader) Name() string {
	return r.name
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll drains path into memory.
func ReadAll(path string, opts ...ReaderOption) ([]Entry, int64, error) {
	r, err := Open(path, opts...)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()
	var out []Entry
	for r.Next() {
		out = append(out, r.Entry())
	}
	return out, r.Skipped(), r.Err()
}

// IsMalformed reports whether err is a skipped-line error.
func IsMalformed(err error) bool {
	return errors.Is(err, apperrors.ErrMalformedLine)
}
