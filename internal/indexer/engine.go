package indexer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kueri-lab/trecpipe/internal/corpus"
	"github.com/kueri-lab/trecpipe/internal/indexer/index"
	"github.com/kueri-lab/trecpipe/internal/indexer/segment"
	"github.com/kueri-lab/trecpipe/internal/indexer/tokenizer"
	"github.com/kueri-lab/trecpipe/pkg/config"
	apperrors "github.com/kueri-lab/trecpipe/pkg/errors"
	"github.com/kueri-lab/trecpipe/pkg/metrics"
)

// FieldStats holds collection statistics for one field over live documents.
type FieldStats struct {
	DocCount  int
	SumLength int64
}

// AvgLength returns the mean analyzed field length, or 0 for an empty field.
func (s FieldStats) AvgLength() float64 {
	if s.DocCount == 0 {
		return 0
	}
	return float64(s.SumLength) / float64(s.DocCount)
}

// Engine owns the on-disk segments of one index and the memory index that
// buffers new documents. Added documents become searchable after Flush.
//
// Documents are addressed by a global ordinal: the segment's base plus the
// local ordinal. When an id occurs in several segments the newest wins and
// older copies are hidden from Postings.
type Engine struct {
	memIndex *index.MemoryIndex
	analyzer *tokenizer.Analyzer
	writer   *segment.Writer
	cfg      config.IndexerConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	readers []*segment.Reader
	bases   []int
	ids     map[string]int
	live    []bool
	stats   map[string]FieldStats
	total   int
}

// Option configures an Engine.
type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine opens the index in cfg.DataDir for writing, creating the
// directory when needed.
func NewEngine(cfg config.IndexerConfig, opts ...Option) (*Engine, error) {
	const op = "indexer.NewEngine"
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, op, "creating index data directory: %v", err).WithPath(cfg.DataDir)
	}
	return openEngine(cfg, op, opts)
}

// Open opens an existing index for searching. A missing directory, or one
// holding no readable segment, is ErrResourceUnavailable.
func Open(cfg config.IndexerConfig, opts ...Option) (*Engine, error) {
	const op = "indexer.Open"
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, op, "index directory: %v", err).WithPath(cfg.DataDir)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, op, "index path is not a directory").WithPath(cfg.DataDir)
	}
	e, err := openEngine(cfg, op, opts)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	segments := len(e.readers)
	e.mu.RUnlock()
	if segments == 0 {
		_ = e.Close()
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, op, "index has no segments, run index first").WithPath(cfg.DataDir)
	}
	return e, nil
}

func openEngine(cfg config.IndexerConfig, op string, opts []Option) (*Engine, error) {
	analyzerOpts := []tokenizer.Option{tokenizer.WithStemming(cfg.Stem)}
	if cfg.StopListPath != "" {
		words, err := tokenizer.LoadStopList(cfg.StopListPath)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrResourceUnavailable, op, "loading stop list: %v", err).WithPath(cfg.StopListPath)
		}
		analyzerOpts = append(analyzerOpts, tokenizer.WithStopWords(words))
	}
	analyzer := tokenizer.New(analyzerOpts...)

	e := &Engine{
		memIndex: index.NewMemoryIndex(analyzer),
		analyzer: analyzer,
		writer:   segment.NewWriter(cfg.DataDir),
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.loadExistingSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return e, nil
}

// Analyzer returns the analyzer used for both indexing and querying.
func (e *Engine) Analyzer() *tokenizer.Analyzer { return e.analyzer }

// AddDocument buffers doc in memory, flushing a segment once the buffer
// exceeds the configured size.
func (e *Engine) AddDocument(doc corpus.Document) error {
	if doc.ID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, "indexer.AddDocument", "document has no id")
	}
	stored := make(map[string]string, len(doc.Extra)+2)
	for k, v := range doc.Extra {
		stored[k] = v
	}
	stored[corpus.FieldContents] = doc.Contents
	if doc.DocT5Query != "" {
		stored[corpus.FieldDocT5Query] = doc.DocT5Query
	}
	e.memIndex.AddDocument(doc.ID, doc.Fields(), stored)
	e.metrics.DocIndexed()

	if e.cfg.SegmentMaxSize > 0 && e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// Flush writes buffered documents to a new segment and makes them visible.
func (e *Engine) Flush() error {
	snapshot := e.memIndex.Snapshot()
	if len(snapshot.Docs) == 0 {
		return nil
	}
	segmentName, err := e.writer.Write(snapshot)
	if err != nil {
		e.metrics.IndexFlushed("error")
		return fmt.Errorf("writing segment: %w", err)
	}
	reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, segmentName))
	if err != nil {
		e.metrics.IndexFlushed("error")
		return fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.mu.Lock()
	e.readers = append(e.readers, reader)
	e.rebuildLocked()
	active := len(e.readers)
	e.mu.Unlock()
	e.memIndex.Reset()
	e.metrics.IndexFlushed("ok")

	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", active,
	)
	return nil
}

// rebuildLocked recomputes ordinal bases, the id map, liveness and field
// statistics. Caller holds e.mu.
func (e *Engine) rebuildLocked() {
	e.bases = make([]int, len(e.readers))
	e.ids = make(map[string]int)
	next := 0
	for i, r := range e.readers {
		e.bases[i] = next
		for ord := 0; ord < r.DocCount(); ord++ {
			e.ids[r.DocID(ord)] = next + ord
		}
		next += r.DocCount()
	}
	e.live = make([]bool, next)
	for _, g := range e.ids {
		e.live[g] = true
	}
	e.total = len(e.ids)

	e.stats = make(map[string]FieldStats)
	for i, r := range e.readers {
		for ord := 0; ord < r.DocCount(); ord++ {
			if !e.live[e.bases[i]+ord] {
				continue
			}
			for _, field := range []string{corpus.FieldContents, corpus.FieldDocT5Query} {
				n := r.FieldLength(ord, field)
				if n == 0 {
					continue
				}
				s := e.stats[field]
				s.DocCount++
				s.SumLength += int64(n)
				e.stats[field] = s
			}
		}
	}
}

// locate maps a global ordinal to its segment and local ordinal.
func (e *Engine) locate(global int) (*segment.Reader, int, bool) {
	if global < 0 || global >= len(e.live) {
		return nil, 0, false
	}
	i := sort.Search(len(e.bases), func(i int) bool { return e.bases[i] > global }) - 1
	if i < 0 {
		return nil, 0, false
	}
	return e.readers[i], global - e.bases[i], true
}

// ResolveDocID maps an external document id to its global ordinal.
func (e *Engine) ResolveDocID(id string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ord, ok := e.ids[id]
	if !ok {
		return 0, apperrors.New(apperrors.ErrDocumentNotFound, "indexer.ResolveDocID", "document is not indexed").WithDoc(id)
	}
	return ord, nil
}

// ExternalID returns the id of the document at a global ordinal.
func (e *Engine) ExternalID(ord int) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, local, ok := e.locate(ord)
	if !ok {
		return ""
	}
	return r.DocID(local)
}

func (e *Engine) storedDoc(ord int) (index.StoredDoc, error) {
	e.mu.RLock()
	r, local, ok := e.locate(ord)
	e.mu.RUnlock()
	if !ok {
		return index.StoredDoc{}, apperrors.Newf(apperrors.ErrDocumentNotFound, "indexer.Doc", "ordinal %d out of range", ord)
	}
	return r.Doc(local)
}

// TermVector returns the term frequencies of a field. A document without
// the field yields an empty vector.
func (e *Engine) TermVector(ord int, field string) (map[string]int, error) {
	doc, err := e.storedDoc(ord)
	if err != nil {
		return nil, err
	}
	vec := doc.Vectors[field]
	if vec == nil {
		vec = map[string]int{}
	}
	return vec, nil
}

// StoredField returns a stored value and whether the document carries it.
func (e *Engine) StoredField(ord int, field string) (string, bool, error) {
	doc, err := e.storedDoc(ord)
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Stored[field]
	return v, ok, nil
}

// Postings returns the live postings of an analyzed term across every
// segment, with global ordinals in ascending order.
func (e *Engine) Postings(field, term string) (index.PostingList, error) {
	e.mu.RLock()
	readers := e.readers
	bases := e.bases
	live := e.live
	e.mu.RUnlock()

	var all index.PostingList
	for i, reader := range readers {
		postings, err := reader.Postings(field, term)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", filepath.Base(reader.Path()), err)
		}
		for _, p := range postings {
			p.Doc += bases[i]
			if live[p.Doc] {
				all = append(all, p)
			}
		}
	}
	return all, nil
}

// TermStats sums document frequency and occurrences of a term over all
// segments. Shadowed copies are still counted.
func (e *Engine) TermStats(field, term string) (docFreq int, totalFreq int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.readers {
		df, tf := r.TermStats(field, term)
		docFreq += df
		totalFreq += tf
	}
	return docFreq, totalFreq
}

// FieldLength returns the analyzed length of a field for a global ordinal.
func (e *Engine) FieldLength(ord int, field string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, local, ok := e.locate(ord)
	if !ok {
		return 0
	}
	return r.FieldLength(local, field)
}

func (e *Engine) FieldStats(field string) FieldStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats[field]
}

// TotalDocs returns the number of live searchable documents.
func (e *Engine) TotalDocs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.total
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	e.rebuildLocked()
	return nil
}

func (e *Engine) loadExistingSegments() error {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), segment.Extension) {
			segFiles = append(segFiles, entry.Name())
		}
	}
	sort.Strings(segFiles)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range segFiles {
		path := filepath.Join(e.cfg.DataDir, name)
		reader, err := segment.OpenReader(path)
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers = append(e.readers, reader)
		e.logger.Debug("loaded existing segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	e.rebuildLocked()
	e.logger.Info("segment recovery complete",
		"segments_loaded", len(e.readers),
		"documents", e.total,
	)
	return nil
}
