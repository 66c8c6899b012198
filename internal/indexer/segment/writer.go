package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/kueri-lab/trecpipe/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
//
//	0:4   magic        4:8   version
//	8:12  term count   12:16 doc count
//	16:24 dir offset   24:32 dir size
//	32:40 post offset  40:48 post size
//	48:56 docs offset  56:64 docs size
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
	DocsOffset int64
	DocsSize   int64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		DictOffset: int64(binary.LittleEndian.Uint64(b[16:24])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

// DictEntry maps a field's term to its postings offset, length, and
// document frequency in the segment file.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
	TotalFreq  int64  `json:"c"`
}

// DocEntry locates one stored document and carries what scoring needs for
// every candidate without touching the document store.
type DocEntry struct {
	ID      string         `json:"i"`
	Offset  int64          `json:"o"`
	Len     int            `json:"l"`
	Lengths map[string]int `json:"n"`
}

// directory is the JSON section the header's dict offset points to.
type directory struct {
	Terms []DictEntry `json:"terms"`
	Docs  []DocEntry  `json:"docs"`
}

// Writer serialises snapshots into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write atomically creates a new segment file containing snap. It writes to
// a .tmp file first and renames on success.
func (w *Writer) Write(snap index.Snapshot) (string, error) {
	if len(snap.Docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%020d%s", time.Now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	cw := &countingWriter{w: bufio.NewWriterSize(f, 256*1024)}
	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(len(snap.Terms)),
		DocCount:  uint32(len(snap.Docs)),
	}
	if _, err := cw.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header placeholder: %w", err)
	}

	header.PostOffset = cw.n
	dir := directory{
		Terms: make([]DictEntry, 0, len(snap.Terms)),
		Docs:  make([]DocEntry, 0, len(snap.Docs)),
	}
	for _, entry := range snap.Terms {
		relativeOffset := cw.n - header.PostOffset
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for %s:%q: %w", entry.Field, entry.Term, err)
		}
		if _, err := cw.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for %s:%q: %w", entry.Field, entry.Term, err)
		}
		var total int64
		for _, p := range entry.Postings {
			total += int64(p.Frequency)
		}
		dir.Terms = append(dir.Terms, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: relativeOffset,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
			TotalFreq:  total,
		})
	}
	header.PostSize = cw.n - header.PostOffset

	header.DocsOffset = cw.n
	for _, doc := range snap.Docs {
		relativeOffset := cw.n - header.DocsOffset
		data, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("marshaling document %s: %w", doc.ID, err)
		}
		if _, err := cw.Write(data); err != nil {
			return "", fmt.Errorf("writing document %s: %w", doc.ID, err)
		}
		dir.Docs = append(dir.Docs, DocEntry{
			ID:      doc.ID,
			Offset:  relativeOffset,
			Len:     len(data),
			Lengths: doc.Lengths,
		})
	}
	header.DocsSize = cw.n - header.DocsOffset

	header.DictOffset = cw.n
	dictData, err := json.Marshal(dir)
	if err != nil {
		return "", fmt.Errorf("marshaling directory: %w", err)
	}
	if _, err := cw.Write(dictData); err != nil {
		return "", fmt.Errorf("writing directory: %w", err)
	}
	header.DictSize = cw.n - header.DictOffset

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.PostSize))
	if _, err := cw.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if err := cw.w.Flush(); err != nil {
		return "", fmt.Errorf("flushing segment file: %w", err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		committed = true
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	committed = true
	return segmentName, nil
}
