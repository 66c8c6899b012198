package quality

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// FileSource serves scores loaded from an `id<TAB>score` file.
type FileSource struct {
	name    string
	scores  map[string]float32
	skipped int64
}

// ParseScoreLine decodes one `id<TAB>score` line.
func ParseScoreLine(line string) (string, float32, error) {
	id, raw, ok := strings.Cut(line, "\t")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", 0, apperrors.New(apperrors.ErrMalformedLine, "quality.ParseScoreLine", "expected id<TAB>score")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", 0, apperrors.Newf(apperrors.ErrMalformedLine, "quality.ParseScoreLine", "score %q is not a finite number", raw)
	}
	return id, float32(v), nil
}

// LoadFile reads a score file fully. A missing file is
// ErrResourceUnavailable.
func LoadFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "quality.LoadFile", err.Error()).WithPath(path)
	}
	defer f.Close()
	return ReadScores(f, path)
}

// ReadScores parses scores from r. Lines that do not parse are ignored and
// counted; a later line for the same id wins.
func ReadScores(r io.Reader, name string) (*FileSource, error) {
	logger := slog.Default().With("component", "quality-file")
	s := &FileSource{name: name, scores: make(map[string]float32)}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		id, score, err := ParseScoreLine(text)
		if err != nil {
			s.skipped++
			logger.Debug("ignoring score line", "path", name, "line", line, "error", err)
			continue
		}
		s.scores[id] = score
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s after line %d: %w", name, line, err)
	}
	if s.skipped > 0 {
		logger.Warn("ignored malformed score lines", "path", name, "count", s.skipped)
	}
	return s, nil
}

func (s *FileSource) Name() string { return "file" }

// Len is the number of scored documents.
func (s *FileSource) Len() int { return len(s.scores) }

// Skipped counts lines that were ignored.
func (s *FileSource) Skipped() int64 { return s.skipped }

// Scores returns the loaded scores. The caller must not modify the map.
func (s *FileSource) Scores() map[string]float32 { return s.scores }

func (s *FileSource) Lookup(_ context.Context, keys []Key) ([]Result, error) {
	results := make([]Result, len(keys))
	for i, k := range keys {
		if score, ok := s.scores[k.DocumentID]; ok {
			results[i] = Result{Score: score, Found: true}
		}
	}
	return results, nil
}
