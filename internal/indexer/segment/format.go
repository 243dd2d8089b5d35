// Package segment reads and writes immutable .spdx segment files.
//
// Layout:
//
//	header (64 bytes)
//	postings    varint-delta encoded, one run per dictionary entry
//	stored      zstd-compressed blocks of StoredBlockSize documents
//	norms       per text field, one uint32 token count per document
//	points      per int64 field, (value, doc) pairs sorted by value
//	toc         JSON: schema, term dictionary, section offsets, field stats
//	footer (16 bytes): crc32(toc), doc count, toc offset
package segment

import (
	"encoding/binary"
	"fmt"

	"github.com/ippousyuga/search-lucene/internal/indexer/index"
)

const (
	MagicBytes      uint32 = 0x53504458
	FormatVersion   uint32 = 2
	HeaderSize      int    = 64
	FooterSize      int    = 16
	StoredBlockSize int    = 16
	Extension              = ".spdx"
)

// SegmentHeader is the fixed-size header at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	TOCOffset  int64
	TOCSize    int64
	PostOffset int64
	PostSize   int64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.TOCOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.TOCSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
	return b
}

func decodeHeader(b []byte) (SegmentHeader, error) {
	h := SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		TOCOffset:  int64(binary.LittleEndian.Uint64(b[24:32])),
		TOCSize:    int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("unsupported format version %d", h.Version)
	}
	return h, nil
}

// DictEntry maps a (field, term) pair to its postings run.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
	TotalFreq  int64  `json:"n"`
}

// Section locates a byte range in the segment file.
type Section struct {
	Offset int64 `json:"o"`
	Size   int64 `json:"s"`
	Count  int   `json:"c,omitempty"`
}

// FieldStats summarises an indexed text field across the segment.
type FieldStats struct {
	DocCount  int   `json:"docs"`
	SumLength int64 `json:"sum_len"`
}

type storedSection struct {
	BlockSize int       `json:"block_size"`
	Blocks    []Section `json:"blocks"`
}

type toc struct {
	Schema     index.Schema          `json:"schema"`
	DocCount   int                   `json:"doc_count"`
	Dict       []DictEntry           `json:"dict"`
	Stored     storedSection         `json:"stored"`
	Norms      map[string]Section    `json:"norms"`
	Points     map[string]Section    `json:"points"`
	FieldStats map[string]FieldStats `json:"field_stats"`
}

func less(field1, term1, field2, term2 string) bool {
	if field1 != field2 {
		return field1 < field2
	}
	return term1 < term2
}

func encodePostings(buf []byte, postings index.PostingList) []byte {
	var prevDoc uint32
	for i, p := range postings {
		delta := p.DocID - prevDoc
		if i == 0 {
			delta = p.DocID
		}
		prevDoc = p.DocID
		buf = binary.AppendUvarint(buf, uint64(delta))
		buf = binary.AppendUvarint(buf, uint64(len(p.Positions)))
		prevPos, prevStart := 0, 0
		for j, pos := range p.Positions {
			buf = binary.AppendUvarint(buf, uint64(pos-prevPos))
			prevPos = pos
			span := index.Span{}
			if j < len(p.Offsets) {
				span = p.Offsets[j]
			}
			buf = binary.AppendUvarint(buf, uint64(span.Start-prevStart))
			buf = binary.AppendUvarint(buf, uint64(span.End-span.Start))
			prevStart = span.Start
		}
	}
	return buf
}

func decodePostings(b []byte, docFreq int) (index.PostingList, error) {
	postings := make(index.PostingList, 0, docFreq)
	var doc uint32
	for i := 0; i < docFreq; i++ {
		delta, err := readUvarint(&b)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			doc = uint32(delta)
		} else {
			doc += uint32(delta)
		}
		freq, err := readUvarint(&b)
		if err != nil {
			return nil, err
		}
		p := index.Posting{
			DocID:     doc,
			Frequency: int(freq),
			Positions: make([]int, freq),
			Offsets:   make([]index.Span, freq),
		}
		pos, start := 0, 0
		for j := 0; j < int(freq); j++ {
			dp, err := readUvarint(&b)
			if err != nil {
				return nil, err
			}
			ds, err := readUvarint(&b)
			if err != nil {
				return nil, err
			}
			length, err := readUvarint(&b)
			if err != nil {
				return nil, err
			}
			pos += int(dp)
			start += int(ds)
			p.Positions[j] = pos
			p.Offsets[j] = index.Span{Start: start, End: start + int(length)}
		}
		postings = append(postings, p)
	}
	return postings, nil
}

func encodeDocument(buf []byte, schema index.Schema, doc index.Document) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(doc)))
	for i, f := range schema.Fields {
		v, ok := doc[f.Name]
		if !ok {
			continue
		}
		buf = binary.AppendUvarint(buf, uint64(i))
		buf = append(buf, byte(v.Type))
		switch v.Type {
		case index.FieldInt64:
			buf = binary.AppendVarint(buf, v.Int)
		default:
			buf = binary.AppendUvarint(buf, uint64(len(v.Text)))
			buf = append(buf, v.Text...)
		}
	}
	return buf
}

func decodeDocument(b *[]byte, schema index.Schema) (index.Document, error) {
	n, err := readUvarint(b)
	if err != nil {
		return nil, err
	}
	doc := make(index.Document, n)
	for i := uint64(0); i < n; i++ {
		ord, err := readUvarint(b)
		if err != nil {
			return nil, err
		}
		if int(ord) >= len(schema.Fields) || len(*b) == 0 {
			return nil, fmt.Errorf("corrupt stored document: field ordinal %d", ord)
		}
		typ := index.FieldType((*b)[0])
		*b = (*b)[1:]
		name := schema.Fields[ord].Name
		switch typ {
		case index.FieldInt64:
			v, k := binary.Varint(*b)
			if k <= 0 {
				return nil, fmt.Errorf("corrupt stored document: bad varint")
			}
			*b = (*b)[k:]
			doc[name] = index.Int(v)
		default:
			l, err := readUvarint(b)
			if err != nil {
				return nil, err
			}
			if uint64(len(*b)) < l {
				return nil, fmt.Errorf("corrupt stored document: truncated text")
			}
			doc[name] = index.Text(string((*b)[:l]))
			*b = (*b)[l:]
		}
	}
	return doc, nil
}

func readUvarint(b *[]byte) (uint64, error) {
	v, n := binary.Uvarint(*b)
	if n <= 0 {
		return 0, fmt.Errorf("corrupt varint")
	}
	*b = (*b)[n:]
	return v, nil
}
