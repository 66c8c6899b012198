// Package corpus parses collection files into documents. Formats register
// themselves by name and are opened through Open, so adding a format never
// touches the indexer.
package corpus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Field names written to the index.
const (
	FieldID         = "id"
	FieldContents   = "contents"
	FieldDocT5Query = "docT5Query"
)

// Document is one parsed collection document.
type Document struct {
	ID         string
	Contents   string
	DocT5Query string
	// Extra holds additional stored-only fields, such as a precomputed
	// quality score.
	Extra map[string]string
}

// Fields returns the analyzed text fields of d keyed by field name.
func (d Document) Fields() map[string]string {
	f := map[string]string{FieldContents: d.Contents}
	if d.DocT5Query != "" {
		f[FieldDocT5Query] = d.DocT5Query
	}
	return f
}

// Parser iterates over the documents of one file.
type Parser interface {
	Next() bool
	Document() Document
	Err() error
	// Skipped counts records that could not be decoded.
	Skipped() int64
}

// Factory creates a Parser over r; name identifies r in logs.
type Factory func(r io.Reader, name string) Parser

type format struct {
	factory Factory
	exts    []string
}

var (
	mu      sync.RWMutex
	formats = map[string]format{}
)

// Register makes a format available by name. exts lists file extensions
// (with dot) that Walk picks up for it.
func Register(name string, exts []string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	formats[name] = format{factory: f, exts: exts}
}

// Formats lists registered format names.
func Formats() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (format, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := formats[name]
	if !ok {
		return format{}, apperrors.Newf(apperrors.ErrInvalidInput, "corpus.Open", "unknown corpus format %q (known: %s)", name, strings.Join(keys(), ", "))
	}
	return f, nil
}

func keys() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewParser returns a parser of the named format reading r.
func NewParser(formatName string, r io.Reader, name string) (Parser, error) {
	f, err := lookup(formatName)
	if err != nil {
		return nil, err
	}
	return f.factory(r, name), nil
}

// Files lists every file under dir that the named format reads, in lexical
// order.
func Files(formatName, dir string) ([]string, error) {
	f, err := lookup(formatName)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "corpus.Files", err.Error()).WithPath(dir)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "corpus.Files", "not a directory").WithPath(dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range f.exts {
			if ext == e {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus directory %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
