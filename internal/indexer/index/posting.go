package index

// Posting records one document's occurrences of a term. Doc is the
// document's ordinal within its segment.
type Posting struct {
	Doc       int   `json:"d"`
	Frequency int   `json:"f"`
	Positions []int `json:"p,omitempty"`
}

type PostingList []Posting

type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// StoredDoc is everything the index keeps per document besides postings.
type StoredDoc struct {
	ID string `json:"id"`
	// Lengths holds the analyzed token count per field.
	Lengths map[string]int `json:"n"`
	// Vectors holds term frequencies per field.
	Vectors map[string]map[string]int `json:"v"`
	// Stored holds raw field values returned by StoredField.
	Stored map[string]string `json:"s,omitempty"`
}

// Snapshot is an immutable copy of a memory index, ready to be written as a
// segment. Terms are sorted by field then term; Docs are in ordinal order.
type Snapshot struct {
	Terms []TermEntry
	Docs  []StoredDoc
}
