package runfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Sink receives entries in output order.
type Sink interface {
	Write(e Entry) error
	Close() error
}

// Aborter is implemented by sinks that can discard everything written so
// far instead of committing it.
type Aborter interface {
	Abort() error
}

// Abort discards s when it supports it and closes it otherwise.
func Abort(s Sink) error {
	if a, ok := s.(Aborter); ok {
		return a.Abort()
	}
	return s.Close()
}

// Writer writes a run file through a temporary sibling that is renamed into
// place on Close, so readers never observe a partial run.
type Writer struct {
	path  string
	tmp   *os.File
	bw    *bufio.Writer
	buf   []byte
	count int64
	done  bool
}

// Create starts writing path, creating its directory if needed.
func Create(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "runfile.Create", err.Error()).WithPath(dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "runfile.Create", err.Error()).WithPath(path)
	}
	return &Writer{
		path: path,
		tmp:  tmp,
		bw:   bufio.NewWriterSize(tmp, 64*1024),
	}, nil
}

// NewStreamWriter writes straight to w with no rename step.
func NewStreamWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

func (w *Writer) Write(e Entry) error {
	if w.done {
		return errors.New("runfile: write after close")
	}
	w.buf = AppendFormat(w.buf[:0], e)
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("writing run entry: %w", err)
	}
	w.count++
	return nil
}

// Count is the number of entries written.
func (w *Writer) Count() int64 {
	return w.count
}

func (w *Writer) Path() string {
	return w.path
}

// Close flushes and commits the run file.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.bw.Flush(); err != nil {
		w.discard()
		return fmt.Errorf("flushing run file %s: %w", w.path, err)
	}
	if w.tmp == nil {
		return nil
	}
	if err := w.tmp.Chmod(0o644); err != nil {
		w.discard()
		return fmt.Errorf("setting mode of run file %s: %w", w.path, err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("syncing run file %s: %w", w.path, err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("closing run file %s: %w", w.path, err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("renaming run file into %s: %w", w.path, err)
	}
	return nil
}

// Abort drops the temporary file. The destination is left untouched.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	if w.tmp == nil {
		return w.bw.Flush()
	}
	w.discard()
	return nil
}

func (w *Writer) discard() {
	if w.tmp == nil {
		return
	}
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// Collector keeps entries in memory.
type Collector struct {
	Entries []Entry
	Closed  bool
}

func (c *Collector) Write(e Entry) error {
	c.Entries = append(c.Entries, e)
	return nil
}

func (c *Collector) Close() error {
	c.Closed = true
	return nil
}

// Tee fans every entry out to all sinks. Close and Abort visit every sink
// and report the first error.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Write(e Entry) error {
	for _, s := range t {
		if err := s.Write(e); err != nil {
			return err
		}
	}
	return nil
}

// Close settles every other sink before committing run files, so a failed
// publish leaves no run file behind.
func (t tee) Close() error {
	var first error
	var files []Sink
	for _, s := range t {
		if _, ok := s.(*Writer); ok {
			files = append(files, s)
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, s := range files {
		var err error
		if first != nil {
			err = Abort(s)
		} else {
			err = s.Close()
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t tee) Abort() error {
	var first error
	for _, s := range t {
		if err := Abort(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
