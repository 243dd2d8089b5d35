package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

var decoder, _ = zstd.NewReader(nil)

// Reader gives random access to one segment file. Dictionary, norms and
// points are held in memory; postings and stored blocks are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	toc      toc
	norms    map[string][]uint32
	points   map[string][]index.Point
}

// OpenReader opens and validates the segment at path.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.IO("opening segment file", path, err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, apperrors.IO("reading segment header", path, err)
	}
	header, err := decodeHeader(headerBytes)
	if err != nil {
		return nil, apperrors.IO("invalid segment file", path, err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.TOCOffset+header.TOCSize); err != nil {
		return nil, apperrors.IO("reading segment footer", path, err)
	}
	tocBytes := make([]byte, header.TOCSize)
	if _, err := f.ReadAt(tocBytes, header.TOCOffset); err != nil {
		return nil, apperrors.IO("reading segment toc", path, err)
	}
	if crc32.ChecksumIEEE(tocBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, apperrors.IO("invalid segment file", path, fmt.Errorf("toc checksum mismatch"))
	}
	var t toc
	if err := json.Unmarshal(tocBytes, &t); err != nil {
		return nil, apperrors.IO("parsing segment toc", path, err)
	}

	r := &Reader{
		file:     f,
		filePath: path,
		header:   header,
		toc:      t,
		norms:    make(map[string][]uint32, len(t.Norms)),
		points:   make(map[string][]index.Point, len(t.Points)),
	}
	for field, section := range t.Norms {
		b, err := r.readSection(section)
		if err != nil {
			return nil, err
		}
		lengths := make([]uint32, section.Count)
		for i := range lengths {
			lengths[i] = binary.LittleEndian.Uint32(b[i*4:])
		}
		r.norms[field] = lengths
	}
	for field, section := range t.Points {
		b, err := r.readSection(section)
		if err != nil {
			return nil, err
		}
		points := make([]index.Point, section.Count)
		for i := range points {
			rec := b[i*12:]
			points[i] = index.Point{
				Value: int64(binary.LittleEndian.Uint64(rec[0:8])),
				DocID: binary.LittleEndian.Uint32(rec[8:12]),
			}
		}
		r.points[field] = points
	}
	return r, nil
}

func (r *Reader) readSection(s Section) ([]byte, error) {
	b := make([]byte, s.Size)
	if _, err := r.file.ReadAt(b, s.Offset); err != nil {
		return nil, apperrors.IO("reading segment section", r.filePath, err)
	}
	return b, nil
}

// Lookup finds the dictionary entry of (field, term).
func (r *Reader) Lookup(field, term string) (DictEntry, bool) {
	dict := r.toc.Dict
	idx := sort.Search(len(dict), func(i int) bool {
		return !less(dict[i].Field, dict[i].Term, field, term)
	})
	if idx >= len(dict) || dict[idx].Field != field || dict[idx].Term != term {
		return DictEntry{}, false
	}
	return dict[idx], true
}

// DocFreq returns how many documents of this segment contain the term.
func (r *Reader) DocFreq(field, term string) int {
	entry, ok := r.Lookup(field, term)
	if !ok {
		return 0
	}
	return entry.DocFreq
}

// Postings returns the postings list of (field, term), nil when absent.
func (r *Reader) Postings(field, term string) (index.PostingList, error) {
	entry, ok := r.Lookup(field, term)
	if !ok {
		return nil, nil
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, apperrors.IO("reading postings", r.filePath, err)
	}
	postings, err := decodePostings(postingsBytes, entry.DocFreq)
	if err != nil {
		return nil, apperrors.IO(fmt.Sprintf("decoding postings for %s:%q", field, term), r.filePath, err)
	}
	return postings, nil
}

// FieldLength returns the token count of field in doc.
func (r *Reader) FieldLength(field string, doc uint32) uint32 {
	lengths := r.norms[field]
	if int(doc) >= len(lengths) {
		return 0
	}
	return lengths[doc]
}

func (r *Reader) FieldStats(field string) FieldStats {
	return r.toc.FieldStats[field]
}

// NumericRange returns the documents whose int64 field lies in [lo, hi].
func (r *Reader) NumericRange(field string, lo, hi int64) *roaring.Bitmap {
	result := roaring.New()
	points := r.points[field]
	start := sort.Search(len(points), func(i int) bool { return points[i].Value >= lo })
	for i := start; i < len(points) && points[i].Value <= hi; i++ {
		result.Add(points[i].DocID)
	}
	return result
}

// StoredFields decodes the stored fields of a local document id.
func (r *Reader) StoredFields(doc uint32) (index.Document, error) {
	if int(doc) >= r.toc.DocCount {
		return nil, apperrors.Op(apperrors.ErrNotFound, "stored fields", "doc %d out of range [0,%d)", doc, r.toc.DocCount)
	}
	blockSize := r.toc.Stored.BlockSize
	blockIdx := int(doc) / blockSize
	if blockIdx >= len(r.toc.Stored.Blocks) {
		return nil, apperrors.IO("stored fields", r.filePath, fmt.Errorf("missing stored block %d", blockIdx))
	}
	compressed, err := r.readSection(r.toc.Stored.Blocks[blockIdx])
	if err != nil {
		return nil, err
	}
	block, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, apperrors.IO("decompressing stored block", r.filePath, err)
	}
	for i := 0; i <= int(doc)%blockSize; i++ {
		d, err := decodeDocument(&block, r.toc.Schema)
		if err != nil {
			return nil, apperrors.IO("decoding stored document", r.filePath, err)
		}
		if i == int(doc)%blockSize {
			return d, nil
		}
	}
	return nil, apperrors.Op(apperrors.ErrNotFound, "stored fields", "doc %d", doc)
}

func (r *Reader) Schema() index.Schema {
	return r.toc.Schema
}

// Name returns the file name of the segment.
func (r *Reader) Name() string {
	return filepath.Base(r.filePath)
}

func (r *Reader) Terms() int {
	return len(r.toc.Dict)
}

func (r *Reader) DocCount() int {
	return r.toc.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}
