// Package topic parses TREC-style XML topic files:
//
//	<topics>
//	  <topic>
//	    <number>1</number>
//	    <title>...</title>
//	    <objects>...</objects>
//	    <description>...</description>
//	    <narrative>...</narrative>
//	  </topic>
//	</topics>
package topic

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/kueri-lab/trecpipe/internal/runfile"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// Topic is one information need.
type Topic struct {
	Number      string `xml:"number"`
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Objects     string `xml:"objects"`
	Narrative   string `xml:"narrative"`
}

func (t *Topic) normalize() {
	t.Number = strings.TrimSpace(t.Number)
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	t.Objects = strings.TrimSpace(t.Objects)
	t.Narrative = strings.TrimSpace(t.Narrative)
}

func (t Topic) validate() error {
	switch {
	case t.Number == "":
		return apperrors.New(apperrors.ErrMalformedLine, "topic.Parse", "missing number")
	case t.Title == "":
		return apperrors.New(apperrors.ErrMalformedLine, "topic.Parse", "missing title").WithTopic(t.Number)
	case t.Narrative == "":
		return apperrors.New(apperrors.ErrMalformedLine, "topic.Parse", "missing narrative").WithTopic(t.Number)
	}
	return nil
}

// Parser streams topics from an XML document. Invalid and duplicate topics
// are logged and skipped.
type Parser struct {
	name    string
	dec     *xml.Decoder
	closer  io.Closer
	logger  *slog.Logger
	seen    map[string]struct{}
	cur     Topic
	pos     int
	skipped int64
	err     error
}

// Open parses the topic file at path.
func Open(path string) (*Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "topic.Open", err.Error()).WithPath(path)
	}
	p := NewParser(f, path)
	p.closer = f
	return p, nil
}

func NewParser(r io.Reader, name string) *Parser {
	return &Parser{
		name:   name,
		dec:    xml.NewDecoder(r),
		logger: slog.Default().With("component", "topic-parser"),
		seen:   make(map[string]struct{}),
	}
}

func (p *Parser) Next() bool {
	if p.err != nil {
		return false
	}
	for {
		tok, err := p.dec.Token()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			p.err = apperrors.New(apperrors.ErrInvalidInput, "topic.Parse", err.Error()).WithPath(p.name)
			return false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "topic" {
			continue
		}
		p.pos++
		var t Topic
		if err := p.dec.DecodeElement(&t, &start); err != nil {
			p.err = apperrors.Newf(apperrors.ErrInvalidInput, "topic.Parse", "topic #%d: %v", p.pos, err).WithPath(p.name)
			return false
		}
		t.normalize()
		if err := t.validate(); err != nil {
			p.skip(err)
			continue
		}
		if _, dup := p.seen[t.Number]; dup {
			p.skip(apperrors.New(apperrors.ErrMalformedLine, "topic.Parse", "duplicate number").WithTopic(t.Number))
			continue
		}
		p.seen[t.Number] = struct{}{}
		p.cur = t
		return true
	}
}

func (p *Parser) skip(err error) {
	p.skipped++
	p.logger.Warn("skipping topic",
		"path", p.name,
		"position", p.pos,
		"error", err,
	)
}

func (p *Parser) Topic() Topic { return p.cur }
func (p *Parser) Err() error { return p.err }
func (p *Parser) Skipped() int64 { return p.skipped }

func (p *Parser) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// Load reads every valid topic from path, ordered by topic number.
func Load(path string) ([]Topic, int64, error) {
	p, err := Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer p.Close()

	var topics []Topic
	for p.Next() {
		topics = append(topics, p.Topic())
	}
	if err := p.Err(); err != nil {
		return nil, p.Skipped(), fmt.Errorf("loading topics: %w", err)
	}
	sort.SliceStable(topics, func(i, j int) bool {
		return runfile.CompareTopicIDs(topics[i].Number, topics[j].Number) < 0
	})
	return topics, p.Skipped(), nil
}

// Titles maps topic numbers to titles.
func Titles(topics []Topic) map[string]string {
	m := make(map[string]string, len(topics))
	for _, t := range topics {
		m[t.Number] = t.Title
	}
	return m
}
