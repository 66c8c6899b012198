package quality

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
)

// StoredFields reads stored document fields. *indexer.Engine implements it.
type StoredFields interface {
	ResolveDocID(id string) (int, error)
	StoredField(ord int, field string) (string, bool, error)
}

// storedText returns a stored field of an external document id. ok is
// false when the document or the field does not exist.
func storedText(docs StoredFields, id, field string) (string, bool, error) {
	ord, err := docs.ResolveDocID(id)
	if errors.Is(err, apperrors.ErrDocumentNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return docs.StoredField(ord, field)
}

// IndexSource reads precomputed scores stored with each document.
type IndexSource struct {
	docs   StoredFields
	field  string
	logger *slog.Logger
}

func NewIndexSource(docs StoredFields, field string) *IndexSource {
	return &IndexSource{
		docs:   docs,
		field:  field,
		logger: slog.Default().With("component", "quality-index"),
	}
}

func (s *IndexSource) Name() string { return "index" }

func (s *IndexSource) Lookup(ctx context.Context, keys []Key) ([]Result, error) {
	results := make([]Result, len(keys))
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, ok, err := storedText(s.docs, k.DocumentID, s.field)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, "quality.IndexSource", "reading %s: %v", s.field, err).WithDoc(k.DocumentID)
		}
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			s.logger.Warn("stored quality is not a number", "doc", k.DocumentID, "value", raw)
			continue
		}
		results[i] = Result{Score: float32(v), Found: true}
	}
	return results, nil
}
