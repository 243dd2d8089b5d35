package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/indexer/segment"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
	"github.com/ippousyuga/search-lucene/pkg/resilience"
)

// SegmentView is one segment as seen by a Reader: global ids of its
// documents start at Base, and Deleted holds local ids that no longer match.
type SegmentView struct {
	*segment.Reader
	Base    int
	Deleted *roaring.Bitmap
}

// IsDeleted reports whether the local id is deleted.
func (s *SegmentView) IsDeleted(local uint32) bool {
	return !s.Deleted.IsEmpty() && s.Deleted.Contains(local)
}

// Reader is a point-in-time view of a committed index. It keeps the segment
// files of its manifest open, so later commits never change what it sees.
type Reader struct {
	dir       string
	manifest  *Manifest
	segments  []*SegmentView
	maxDoc    int
	liveDocs  int
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

// OpenReader opens the latest committed index in dir. It returns an
// ErrNotFound error when dir holds no committed index.
func OpenReader(ctx context.Context, dir string) (*Reader, error) {
	var r *Reader
	err := resilience.Retry(ctx, "open index reader", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Retryable: func(err error) bool {
			// a segment vanished between reading the manifest and opening
			// it: a newer commit replaced it
			return errors.Is(err, fs.ErrNotExist)
		},
	}, func() error {
		var err error
		r, err = openReader(dir)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func openReader(dir string) (*Reader, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		dir:      dir,
		manifest: m,
		segments: make([]*SegmentView, 0, len(m.Segments)),
		logger:   slog.Default().With("component", "index-reader", "dir", dir),
	}
	for _, info := range m.Segments {
		seg, err := segment.OpenReader(filepath.Join(dir, info.Name))
		if err != nil {
			r.closeSegments()
			return nil, err
		}
		view := &SegmentView{Reader: seg, Base: r.maxDoc, Deleted: roaring.New()}
		r.segments = append(r.segments, view)
		if seg.DocCount() != info.DocCount {
			r.closeSegments()
			return nil, apperrors.Op(apperrors.ErrIO, "open reader",
				"segment %s has %d docs, manifest says %d", info.Name, seg.DocCount(), info.DocCount)
		}
		if info.Deletes != "" {
			bm, err := readDeletes(filepath.Join(dir, info.Deletes))
			if err != nil {
				r.closeSegments()
				return nil, err
			}
			view.Deleted = bm
		}
		r.maxDoc += seg.DocCount()
		r.liveDocs += seg.DocCount() - int(view.Deleted.GetCardinality())
	}
	return r, nil
}

// CheckOpen fails with ErrInvalidState once the reader is closed. Callers
// iterating Segments check it first so a closed reader is never mistaken
// for an empty one.
func (r *Reader) CheckOpen(op string) error {
	if r.closed.Load() {
		return apperrors.Op(apperrors.ErrInvalidState, op, "reader is closed")
	}
	return nil
}

// StoredFields returns the stored fields of a document by its global id.
func (r *Reader) StoredFields(doc int) (index.Document, error) {
	if err := r.CheckOpen("stored fields"); err != nil {
		return nil, err
	}
	seg, local, ok := r.locate(doc)
	if !ok || seg.IsDeleted(local) {
		return nil, apperrors.Op(apperrors.ErrNotFound, "stored fields", "no live document %d", doc)
	}
	return seg.StoredFields(local)
}

func (r *Reader) locate(doc int) (*SegmentView, uint32, bool) {
	if doc < 0 || doc >= r.maxDoc {
		return nil, 0, false
	}
	i := sort.Search(len(r.segments), func(i int) bool {
		return r.segments[i].Base+r.segments[i].DocCount() > doc
	})
	if i >= len(r.segments) {
		return nil, 0, false
	}
	seg := r.segments[i]
	return seg, uint32(doc - seg.Base), true
}

// DocFreq sums the document frequency of a term over all segments. Deleted
// documents are still counted until their segment is rewritten.
func (r *Reader) DocFreq(field, term string) int {
	n := 0
	for _, seg := range r.segments {
		n += seg.DocFreq(field, term)
	}
	return n
}

// FieldStats sums the statistics of a text field over all segments.
func (r *Reader) FieldStats(field string) segment.FieldStats {
	var total segment.FieldStats
	for _, seg := range r.segments {
		s := seg.FieldStats(field)
		total.DocCount += s.DocCount
		total.SumLength += s.SumLength
	}
	return total
}

// Segments returns the segment views in global id order.
func (r *Reader) Segments() []*SegmentView {
	return r.segments
}

// DocCount returns the number of live documents.
func (r *Reader) DocCount() int {
	return r.liveDocs
}

// MaxDoc is one greater than the largest global id.
func (r *Reader) MaxDoc() int {
	return r.maxDoc
}

func (r *Reader) Generation() int64 {
	return r.manifest.Generation
}

func (r *Reader) Schema() index.Schema {
	return r.manifest.Schema
}

func (r *Reader) CommittedAt() time.Time {
	return r.manifest.CommittedAt
}

func (r *Reader) Dir() string {
	return r.dir
}

// Close releases the segment files. Only the first call has an effect.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.closeSegments()
	})
	return r.closeErr
}

func (r *Reader) closeSegments() error {
	var firstErr error
	for _, seg := range r.segments {
		if err := seg.Close(); err != nil {
			r.logger.Error("closing segment reader", "segment", seg.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.segments = nil
	return firstErr
}
