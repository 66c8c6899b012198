package index

import (
	"sort"
	"sync"

	"github.com/kueri-lab/trecpipe/internal/indexer/tokenizer"
)

// MemoryIndex accumulates documents until they are flushed into a segment.
// Postings are appended in ordinal order, so every list stays sorted.
type MemoryIndex struct {
	mu       sync.RWMutex
	analyzer *tokenizer.Analyzer
	index    map[string]map[string]PostingList
	docs     []StoredDoc
	size     int64
}

func NewMemoryIndex(analyzer *tokenizer.Analyzer) *MemoryIndex {
	return &MemoryIndex{
		analyzer: analyzer,
		index:    make(map[string]map[string]PostingList),
	}
}

// AddDocument analyzes every text field, records its postings and term
// vector, and keeps stored values verbatim. It returns the document's
// ordinal within this index.
func (m *MemoryIndex) AddDocument(docID string, fields map[string]string, stored map[string]string) int {
	lengths := make(map[string]int, len(fields))
	vectors := make(map[string]map[string]int, len(fields))
	positions := make(map[string]map[string][]int, len(fields))

	for field, text := range fields {
		tokens := m.analyzer.Analyze(text)
		lengths[field] = len(tokens)
		if len(tokens) == 0 {
			continue
		}
		vec := make(map[string]int)
		pos := make(map[string][]int)
		for _, token := range tokens {
			vec[token.Term]++
			pos[token.Term] = append(pos[token.Term], token.Position)
		}
		vectors[field] = vec
		positions[field] = pos
	}

	var storedCopy map[string]string
	if len(stored) > 0 {
		storedCopy = make(map[string]string, len(stored))
		for k, v := range stored {
			storedCopy[k] = v
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ord := len(m.docs)
	for field, vec := range vectors {
		terms, exists := m.index[field]
		if !exists {
			terms = make(map[string]PostingList)
			m.index[field] = terms
		}
		for term, freq := range vec {
			p := Posting{Doc: ord, Frequency: freq, Positions: positions[field][term]}
			terms[term] = append(terms[term], p)
			m.size += int64(len(term) + len(p.Positions)*8 + 48)
		}
	}
	m.docs = append(m.docs, StoredDoc{
		ID:      docID,
		Lengths: lengths,
		Vectors: vectors,
		Stored:  storedCopy,
	})
	m.size += int64(len(docID) + 64)
	for _, v := range storedCopy {
		m.size += int64(len(v))
	}
	return ord
}

// Search returns the postings of an already analyzed term.
func (m *MemoryIndex) Search(field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	postings, exists := m.index[field][term]
	if !exists {
		return nil
	}
	result := make(PostingList, len(postings))
	copy(result, postings)
	return result
}

func (m *MemoryIndex) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []TermEntry
	for field, terms := range m.index {
		for term, postings := range terms {
			list := make(PostingList, len(postings))
			copy(list, postings)
			entries = append(entries, TermEntry{
				Field:    field,
				Term:     term,
				Postings: list,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
	docs := make([]StoredDoc, len(m.docs))
	copy(docs, m.docs)
	return Snapshot{Terms: entries, Docs: docs}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]PostingList)
	m.docs = nil
	m.size = 0
}
