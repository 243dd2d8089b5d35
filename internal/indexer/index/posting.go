package index

// Span is a half-open byte range in the original field text.
type Span struct {
	Start int
	End   int
}

// Posting records the occurrences of one term in one document. Positions
// and Offsets are parallel and ascending.
type Posting struct {
	DocID     uint32
	Frequency int
	Positions []int
	Offsets   []Span
}

// PostingList is ordered by strictly increasing DocID.
type PostingList []Posting

type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// Point is one (value, document) entry of a numeric field.
type Point struct {
	Value int64
	DocID uint32
}

// SegmentData is the immutable content of a flushed memory index, laid out
// the way the segment writer consumes it.
type SegmentData struct {
	Schema   Schema
	DocCount int
	Terms    []TermEntry
	Stored   []Document
	Lengths  map[string][]uint32
	Points   map[string][]Point
}
