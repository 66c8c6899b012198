package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	queryOpen  = "<query>"
	queryClose = "</query>"
)

func init() {
	Register("jsonl", []string{".jsonl", ".json"}, NewJSONL)
}

type jsonlRecord struct {
	ID       json.RawMessage `json:"id"`
	Contents *string         `json:"contents"`
	Quality  *float64        `json:"quality,omitempty"`
}

// JSONL reads one JSON object per line: {"id": ..., "contents": ...}. When
// contents carries a `<query>...</query>` expansion, the text after the
// marker becomes the docT5Query field.
type JSONL struct {
	name    string
	scanner *bufio.Scanner
	logger  *slog.Logger
	line    int
	cur     Document
	skipped int64
	err     error
}

func NewJSONL(r io.Reader, name string) Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	return &JSONL{
		name:    name,
		scanner: sc,
		logger:  slog.Default().With("component", "jsonl-parser"),
	}
}

func (p *JSONL) Next() bool {
	if p.err != nil {
		return false
	}
	for p.scanner.Scan() {
		p.line++
		raw := strings.TrimSpace(p.scanner.Text())
		if raw == "" {
			continue
		}
		doc, err := decodeJSONL(raw)
		if err != nil {
			p.skipped++
			p.logger.Warn("skipping corpus record",
				"path", p.name,
				"line", p.line,
				"error", err,
			)
			continue
		}
		p.cur = doc
		return true
	}
	if err := p.scanner.Err(); err != nil {
		p.err = fmt.Errorf("reading %s after line %d: %w", p.name, p.line, err)
	}
	return false
}

func decodeJSONL(raw string) (Document, error) {
	var rec jsonlRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Document{}, fmt.Errorf("decoding record: %w", err)
	}
	id, err := decodeID(rec.ID)
	if err != nil {
		return Document{}, err
	}
	if rec.Contents == nil {
		return Document{}, fmt.Errorf("record %s has no contents", id)
	}
	contents, expansion := SplitExpansion(*rec.Contents)
	doc := Document{ID: id, Contents: contents, DocT5Query: expansion}
	if rec.Quality != nil {
		doc.Extra = map[string]string{"quality": strconv.FormatFloat(*rec.Quality, 'f', -1, 64)}
	}
	return doc, nil
}

// decodeID accepts string or numeric ids.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("record has no id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("record has an empty id")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id %s is neither string nor number", string(raw))
	}
	return n.String(), nil
}

// SplitExpansion separates document text from an appended
// `<query>...</query>` expansion.
func SplitExpansion(contents string) (string, string) {
	i := strings.Index(contents, queryOpen)
	if i < 0 {
		return contents, ""
	}
	body := strings.TrimSpace(contents[:i])
	rest := contents[i+len(queryOpen):]
	if j := strings.Index(rest, queryOpen); j >= 0 {
		rest = rest[:j]
	}
	rest = strings.ReplaceAll(rest, queryClose, "")
	return body, strings.TrimSpace(rest)
}

func (p *JSONL) Document() Document { return p.cur }

func (p *JSONL) Err() error { return p.err }

func (p *JSONL) Skipped() int64 { return p.skipped }
