// Package indexer owns the on-disk life cycle of an index directory: a
// single locked Writer that buffers documents into segments and publishes
// them with an atomic manifest commit, and snapshot Readers over whatever
// manifest was committed when they were opened.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/gofrs/flock"
	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/indexer/segment"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// Mode selects what a Writer starts from.
type Mode int

const (
	// ModeCreate replaces the committed index at commit time.
	ModeCreate Mode = iota
	// ModeAppend adds to the committed index.
	ModeAppend
)

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "create"
}

const (
	defaultLockTimeout    = 5 * time.Second
	defaultSegmentMaxDocs = 50000
	lockRetryDelay        = 25 * time.Millisecond
)

type WriterOptions struct {
	Mode           Mode
	Schema         index.Schema
	LockTimeout    time.Duration
	SegmentMaxDocs int
}

type writerState int

const (
	stateOpen writerState = iota
	stateCommitted
	stateClosed
)

// Writer is the only mutator of an index directory. It holds the
// directory's write lock from OpenWriter until Commit or Close.
type Writer struct {
	mu         sync.Mutex
	dir        string
	opts       WriterOptions
	lock       *flock.Flock
	base       *Manifest
	generation int64
	mem        *index.MemoryIndex
	segWriter  *segment.Writer
	pending    []SegmentInfo
	deletes    map[string]*roaring.Bitmap
	segReaders map[string]*segment.Reader
	added      int
	state      writerState
	unlockOnce sync.Once
	logger     *slog.Logger
}

// OpenWriter locks dir and starts a write session. It fails with
// ErrLockContention when another writer holds the lock past LockTimeout.
func OpenWriter(ctx context.Context, dir string, opts WriterOptions) (*Writer, error) {
	if err := opts.Schema.Validate(); err != nil {
		return nil, err
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.SegmentMaxDocs <= 0 {
		opts.SegmentMaxDocs = defaultSegmentMaxDocs
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.IO("creating index directory", dir, err)
	}

	lock := flock.New(filepath.Join(dir, LockName))
	lockCtx, cancel := context.WithTimeout(ctx, opts.LockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquiring write lock: %w", ctx.Err())
		}
		return nil, apperrors.IO("acquiring write lock", lock.Path(), err)
	}
	if !locked {
		return nil, &apperrors.OpError{
			Kind: apperrors.ErrLockContention,
			Op:   fmt.Sprintf("acquiring write lock (waited %v)", opts.LockTimeout),
			Path: lock.Path(),
		}
	}

	w := &Writer{
		dir:        dir,
		opts:       opts,
		lock:       lock,
		segWriter:  segment.NewWriter(dir),
		deletes:    make(map[string]*roaring.Bitmap),
		segReaders: make(map[string]*segment.Reader),
		logger:     slog.Default().With("component", "index-writer", "dir", dir),
	}
	if err := w.init(); err != nil {
		w.unlock()
		return nil, err
	}
	w.logger.Info("index writer opened",
		"mode", opts.Mode.String(),
		"generation", w.generation,
	)
	return w, nil
}

func (w *Writer) init() error {
	committed, err := ReadManifest(w.dir)
	switch {
	case err == nil:
		w.generation = committed.Generation + 1
		if w.opts.Mode == ModeAppend {
			if !committed.Schema.Equal(w.opts.Schema) {
				return apperrors.Op(apperrors.ErrInvalidInput, "open writer", "schema differs from committed index")
			}
			w.base = committed
		}
	case errors.Is(err, apperrors.ErrNotFound):
		w.generation = 1
	default:
		return err
	}

	mem, err := index.NewMemoryIndex(w.opts.Schema)
	if err != nil {
		return err
	}
	w.mem = mem
	w.removeStaleTemps()
	return nil
}

// AddDocument buffers doc, flushing a pending segment when the buffer is
// full. Schema violations return ErrInvalidInput and leave the session
// usable; storage failures return ErrIO.
func (w *Writer) AddDocument(doc index.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("add document"); err != nil {
		return err
	}
	if _, err := w.mem.AddDocument(doc); err != nil {
		return err
	}
	w.added++
	if w.mem.DocCount() >= w.opts.SegmentMaxDocs {
		w.logger.Info("memory index reached max docs, flushing to disk",
			"docs", w.mem.DocCount(),
			"size", w.mem.Size(),
		)
		if err := w.flush(); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// DeleteDocuments marks committed documents whose int64 field equals value
// as deleted. Documents added in this session are not affected.
func (w *Writer) DeleteDocuments(field string, value int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("delete documents"); err != nil {
		return 0, err
	}
	spec, ok := w.opts.Schema.Field(field)
	if !ok || spec.Type != index.FieldInt64 || !spec.Indexed {
		return 0, apperrors.Op(apperrors.ErrInvalidInput, "delete documents", "field %q is not an indexed int64 field", field)
	}
	if w.base == nil {
		return 0, nil
	}
	deleted := 0
	for _, info := range w.base.Segments {
		seg, err := w.segmentReader(info.Name)
		if err != nil {
			return deleted, err
		}
		matches := seg.NumericRange(field, value, value)
		if matches.IsEmpty() {
			continue
		}
		bm, err := w.deletionBitmap(info)
		if err != nil {
			return deleted, err
		}
		before := bm.GetCardinality()
		bm.Or(matches)
		deleted += int(bm.GetCardinality() - before)
	}
	return deleted, nil
}

// Commit flushes buffered documents, publishes the new manifest and
// releases the lock. It returns the live document count of the committed
// index. Any later call on the writer fails with ErrInvalidState.
func (w *Writer) Commit() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("commit"); err != nil {
		return 0, err
	}
	start := time.Now()

	if w.mem.DocCount() > 0 {
		if err := w.flush(); err != nil {
			w.rollback()
			return 0, fmt.Errorf("flushing memory index: %w", err)
		}
	}

	next := &Manifest{
		Version:     manifestVersion,
		Generation:  w.generation,
		Schema:      w.opts.Schema,
		CommittedAt: time.Now().UTC(),
	}
	var written []string
	if w.base != nil {
		for _, info := range w.base.Segments {
			if bm, ok := w.deletes[info.Name]; ok {
				name := deletesName(info.Name, w.generation)
				if err := writeDeletes(filepath.Join(w.dir, name), bm); err != nil {
					w.removeFiles(written)
					w.rollback()
					return 0, err
				}
				written = append(written, name)
				info.Deletes = name
				info.DelCount = int(bm.GetCardinality())
			}
			if info.DelCount < info.DocCount {
				next.Segments = append(next.Segments, info)
			}
		}
	}
	next.Segments = append(next.Segments, w.pending...)

	if err := writeManifest(w.dir, next); err != nil {
		w.removeFiles(written)
		w.rollback()
		return 0, fmt.Errorf("committing manifest: %w", err)
	}
	w.state = stateCommitted
	w.closeSegmentReaders()
	w.removeUnreferenced(next)
	w.unlock()

	w.logger.Info("index committed",
		"generation", next.Generation,
		"segments", len(next.Segments),
		"docs_added", w.added,
		"live_docs", next.LiveDocs(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return next.LiveDocs(), nil
}

// Close aborts an uncommitted session, removing its pending segments, and
// releases the lock. Calling Close after Commit, or twice, is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == stateOpen {
		w.logger.Warn("closing uncommitted writer, discarding pending documents",
			"docs_added", w.added,
			"pending_segments", len(w.pending),
		)
		w.rollback()
	}
	return nil
}

// Generation is the generation the next commit will publish.
func (w *Writer) Generation() int64 {
	return w.generation
}

func (w *Writer) checkOpen(op string) error {
	switch w.state {
	case stateCommitted:
		return apperrors.Op(apperrors.ErrInvalidState, op, "writer already committed")
	case stateClosed:
		return apperrors.Op(apperrors.ErrInvalidState, op, "writer is closed")
	}
	return nil
}

func (w *Writer) flush() error {
	data := w.mem.Snapshot()
	if data.DocCount == 0 {
		return nil
	}
	name := segmentName(w.generation, len(w.pending))
	if err := w.segWriter.Write(name, data); err != nil {
		return fmt.Errorf("writing segment: %w", err)
	}
	w.pending = append(w.pending, SegmentInfo{Name: name, DocCount: data.DocCount})
	w.mem.Reset()
	w.logger.Info("segment flushed",
		"segment", name,
		"terms", len(data.Terms),
		"docs", data.DocCount,
		"pending_segments", len(w.pending),
	)
	return nil
}

func (w *Writer) segmentReader(name string) (*segment.Reader, error) {
	if r, ok := w.segReaders[name]; ok {
		return r, nil
	}
	r, err := segment.OpenReader(filepath.Join(w.dir, name))
	if err != nil {
		return nil, err
	}
	w.segReaders[name] = r
	return r, nil
}

func (w *Writer) deletionBitmap(info SegmentInfo) (*roaring.Bitmap, error) {
	if bm, ok := w.deletes[info.Name]; ok {
		return bm, nil
	}
	bm := roaring.New()
	if info.Deletes != "" {
		existing, err := readDeletes(filepath.Join(w.dir, info.Deletes))
		if err != nil {
			return nil, err
		}
		bm = existing
	}
	w.deletes[info.Name] = bm
	return bm, nil
}

func (w *Writer) rollback() {
	names := make([]string, 0, len(w.pending))
	for _, info := range w.pending {
		names = append(names, info.Name)
	}
	w.removeFiles(names)
	w.pending = nil
	w.mem.Reset()
	w.closeSegmentReaders()
	w.state = stateClosed
	w.unlock()
}

func (w *Writer) unlock() {
	w.unlockOnce.Do(func() {
		if err := w.lock.Unlock(); err != nil {
			w.logger.Error("releasing write lock", "error", err)
		}
	})
}

func (w *Writer) closeSegmentReaders() {
	for name, r := range w.segReaders {
		if err := r.Close(); err != nil {
			w.logger.Error("closing segment reader", "segment", name, "error", err)
		}
	}
	w.segReaders = make(map[string]*segment.Reader)
}

func (w *Writer) removeFiles(names []string) {
	for _, name := range names {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Error("removing index file", "file", name, "error", err)
		}
	}
}

// removeUnreferenced deletes files the committed manifest no longer names.
// Readers that still have them open keep reading through their handles.
func (w *Writer) removeUnreferenced(m *Manifest) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("listing index directory", "error", err)
		return
	}
	refs := m.references()
	var stale []string
	for _, e := range entries {
		if e.IsDir() || !isIndexFile(e.Name()) {
			continue
		}
		if _, live := refs[e.Name()]; !live {
			stale = append(stale, e.Name())
		}
	}
	w.removeFiles(stale)
	if len(stale) > 0 {
		w.logger.Info("removed superseded index files", "count", len(stale))
	}
}

func (w *Writer) removeStaleTemps() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var stale []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			stale = append(stale, e.Name())
		}
	}
	w.removeFiles(stale)
}
