package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/indexer/segment"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

const (
	ManifestName    = "manifest.json"
	LockName        = "write.lock"
	deletesExt      = ".del"
	manifestVersion = 1
)

// SegmentInfo names one live segment and its deletion bitmap, if any.
type SegmentInfo struct {
	Name     string `json:"name"`
	DocCount int    `json:"doc_count"`
	Deletes  string `json:"deletes,omitempty"`
	DelCount int    `json:"del_count,omitempty"`
}

// Manifest is the commit point of an index directory. Replacing it by
// rename is what makes a commit visible.
type Manifest struct {
	Version     int           `json:"version"`
	Generation  int64         `json:"generation"`
	Schema      index.Schema  `json:"schema"`
	Segments    []SegmentInfo `json:"segments"`
	CommittedAt time.Time     `json:"committed_at"`
}

func (m *Manifest) MaxDoc() int {
	n := 0
	for _, s := range m.Segments {
		n += s.DocCount
	}
	return n
}

func (m *Manifest) LiveDocs() int {
	n := 0
	for _, s := range m.Segments {
		n += s.DocCount - s.DelCount
	}
	return n
}

func (m *Manifest) references() map[string]struct{} {
	refs := make(map[string]struct{}, 2*len(m.Segments))
	for _, s := range m.Segments {
		refs[s.Name] = struct{}{}
		if s.Deletes != "" {
			refs[s.Deletes] = struct{}{}
		}
	}
	return refs
}

// ReadManifest loads the committed manifest of dir. It returns an
// ErrNotFound error when nothing has been committed yet.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Op(apperrors.ErrNotFound, "read manifest", "no committed index in %s", dir)
		}
		return nil, apperrors.IO("reading manifest", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperrors.IO("parsing manifest", path, err)
	}
	if m.Version != manifestVersion {
		return nil, apperrors.IO("reading manifest", path, fmt.Errorf("unsupported manifest version %d", m.Version))
	}
	return &m, nil
}

func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, ManifestName), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func writeDeletes(path string, bm *roaring.Bitmap) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := bm.WriteTo(w)
		return err
	})
}

func readDeletes(path string) (*roaring.Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.IO("opening deletions", path, err)
	}
	defer f.Close()
	bm := roaring.New()
	if _, err := bm.ReadFrom(f); err != nil {
		return nil, apperrors.IO("reading deletions", path, err)
	}
	return bm, nil
}

// writeFileAtomic writes path through a synced temp file and a rename, then
// syncs the directory so the rename itself is durable.
func writeFileAtomic(path string, fill func(io.Writer) error) (err error) {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return apperrors.IO("creating temp file", tmpPath, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()
	if err := fill(f); err != nil {
		return apperrors.IO("writing temp file", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		return apperrors.IO("syncing temp file", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO("closing temp file", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperrors.IO("renaming temp file", path, err)
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return apperrors.IO("opening directory", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return apperrors.IO("syncing directory", dir, err)
	}
	return nil
}

func segmentName(generation int64, seq int) string {
	return fmt.Sprintf("seg_%06d_%03d%s", generation, seq, segment.Extension)
}

func deletesName(segName string, generation int64) string {
	return fmt.Sprintf("%s_%06d%s", strings.TrimSuffix(segName, segment.Extension), generation, deletesExt)
}

// isIndexFile reports whether name is a segment, deletion or temp file
// owned by the writer.
func isIndexFile(name string) bool {
	return strings.HasSuffix(name, segment.Extension) ||
		strings.HasSuffix(name, deletesExt) ||
		strings.HasSuffix(name, ".tmp")
}
