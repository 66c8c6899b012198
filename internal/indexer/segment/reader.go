package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/kueri-lab/trecpipe/internal/indexer/index"
)

// Reader serves postings and stored documents from one segment file. The
// directory is held in memory; postings and documents are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     []DocEntry
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if stat.Size() < int64(HeaderSize+FooterSize) {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: truncated at %d bytes", stat.Size())
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, stat.Size()-int64(FooterSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.ChecksumIEEE(dictBytes); want != got {
		f.Close()
		return nil, fmt.Errorf("segment checksum mismatch: want %08x, got %08x", want, got)
	}

	var dir directory
	if err := json.Unmarshal(dictBytes, &dir); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing directory: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dir.Terms,
		docs:     dir.Docs,
	}, nil
}

func (r *Reader) lookupTerm(field, term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		if r.dict[i].Field != field {
			return r.dict[i].Field >= field
		}
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Field != field || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

// Postings returns the postings for an analyzed term in a field, or nil if
// the segment does not contain it. Doc ordinals are local to this segment.
func (r *Reader) Postings(field, term string) (index.PostingList, error) {
	entry, ok := r.lookupTerm(field, term)
	if !ok {
		return nil, nil
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// TermStats returns document frequency and total occurrences of a term.
func (r *Reader) TermStats(field, term string) (docFreq int, totalFreq int64) {
	entry, ok := r.lookupTerm(field, term)
	if !ok {
		return 0, 0
	}
	return entry.DocFreq, entry.TotalFreq
}

// Doc loads the stored document at a local ordinal.
func (r *Reader) Doc(ord int) (index.StoredDoc, error) {
	if ord < 0 || ord >= len(r.docs) {
		return index.StoredDoc{}, fmt.Errorf("document ordinal %d out of range [0,%d)", ord, len(r.docs))
	}
	entry := r.docs[ord]
	data := make([]byte, entry.Len)
	if _, err := r.file.ReadAt(data, r.header.DocsOffset+entry.Offset); err != nil {
		return index.StoredDoc{}, fmt.Errorf("reading document %s: %w", entry.ID, err)
	}
	var doc index.StoredDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return index.StoredDoc{}, fmt.Errorf("parsing document %s: %w", entry.ID, err)
	}
	return doc, nil
}

func (r *Reader) DocID(ord int) string {
	if ord < 0 || ord >= len(r.docs) {
		return ""
	}
	return r.docs[ord].ID
}

// FieldLength returns the analyzed length of a field for a local ordinal.
func (r *Reader) FieldLength(ord int, field string) int {
	if ord < 0 || ord >= len(r.docs) {
		return 0
	}
	return r.docs[ord].Lengths[field]
}

// Path returns the segment's file path.
func (r *Reader) Path() string { return r.filePath }

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() int {
	return len(r.docs)
}

func (r *Reader) Close() error {
	return r.file.Close()
}
