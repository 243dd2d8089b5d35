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

	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

var encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

// Writer serialises SegmentData into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write creates the segment file name from data. It writes to a .tmp file,
// syncs it and renames it into place; on failure no file named name exists.
func (w *Writer) Write(name string, data *index.SegmentData) (err error) {
	if data == nil || data.DocCount == 0 {
		return apperrors.Op(apperrors.ErrInvalidState, "write segment", "cannot write empty segment")
	}
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return apperrors.IO("creating segment directory", w.dataDir, err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.IO("creating temp segment file", tmpPath, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	cw := &countingWriter{w: bufio.NewWriterSize(f, 256<<10)}
	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(len(data.Terms)),
		DocCount:  uint32(data.DocCount),
		CreatedAt: time.Now().Unix(),
	}
	if _, err := cw.Write(make([]byte, HeaderSize)); err != nil {
		return apperrors.IO("writing header", tmpPath, err)
	}

	t := toc{
		Schema:     data.Schema,
		DocCount:   data.DocCount,
		Dict:       make([]DictEntry, 0, len(data.Terms)),
		Norms:      make(map[string]Section),
		Points:     make(map[string]Section),
		FieldStats: make(map[string]FieldStats),
	}

	header.PostOffset = cw.n
	var buf []byte
	for _, entry := range data.Terms {
		buf = encodePostings(buf[:0], entry.Postings)
		offset := cw.n - header.PostOffset
		if _, err := cw.Write(buf); err != nil {
			return apperrors.IO(fmt.Sprintf("writing postings for %s:%q", entry.Field, entry.Term), tmpPath, err)
		}
		var total int64
		for _, p := range entry.Postings {
			total += int64(p.Frequency)
		}
		t.Dict = append(t.Dict, DictEntry{
			Field:      entry.Field,
			Term:       entry.Term,
			PostOffset: offset,
			PostLen:    len(buf),
			DocFreq:    len(entry.Postings),
			TotalFreq:  total,
		})
	}
	header.PostSize = cw.n - header.PostOffset

	t.Stored.BlockSize = StoredBlockSize
	for start := 0; start < len(data.Stored); start += StoredBlockSize {
		end := min(start+StoredBlockSize, len(data.Stored))
		buf = buf[:0]
		for _, doc := range data.Stored[start:end] {
			buf = encodeDocument(buf, data.Schema, doc)
		}
		compressed := encoder.EncodeAll(buf, nil)
		section := Section{Offset: cw.n, Size: int64(len(compressed)), Count: end - start}
		if _, err := cw.Write(compressed); err != nil {
			return apperrors.IO("writing stored fields", tmpPath, err)
		}
		t.Stored.Blocks = append(t.Stored.Blocks, section)
	}

	for field, lengths := range data.Lengths {
		buf = buf[:0]
		stats := FieldStats{}
		for _, l := range lengths {
			buf = binary.LittleEndian.AppendUint32(buf, l)
			if l > 0 {
				stats.DocCount++
				stats.SumLength += int64(l)
			}
		}
		section := Section{Offset: cw.n, Size: int64(len(buf)), Count: len(lengths)}
		if _, err := cw.Write(buf); err != nil {
			return apperrors.IO("writing norms", tmpPath, err)
		}
		t.Norms[field] = section
		t.FieldStats[field] = stats
	}

	for field, points := range data.Points {
		buf = buf[:0]
		for _, p := range points {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Value))
			buf = binary.LittleEndian.AppendUint32(buf, p.DocID)
		}
		section := Section{Offset: cw.n, Size: int64(len(buf)), Count: len(points)}
		if _, err := cw.Write(buf); err != nil {
			return apperrors.IO("writing points", tmpPath, err)
		}
		t.Points[field] = section
	}

	tocData, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling segment toc: %w", err)
	}
	header.TOCOffset = cw.n
	header.TOCSize = int64(len(tocData))
	if _, err := cw.Write(tocData); err != nil {
		return apperrors.IO("writing toc", tmpPath, err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(tocData))
	binary.LittleEndian.PutUint32(footer[4:8], uint32(data.DocCount))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.TOCOffset))
	if _, err := cw.Write(footer); err != nil {
		return apperrors.IO("writing footer", tmpPath, err)
	}
	if err := cw.w.Flush(); err != nil {
		return apperrors.IO("flushing segment", tmpPath, err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return apperrors.IO("updating header", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		return apperrors.IO("syncing segment file", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO("closing segment file", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return apperrors.IO("renaming segment file", finalPath, err)
	}
	return nil
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
