// Package snapshot keeps the current reader of one index directory and
// swaps it when a newer commit appears. Searches lease the snapshot they run
// on; a replaced reader is closed once its last lease is returned.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ippousyuga/search-lucene/internal/indexer"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

const reloadDebounce = 50 * time.Millisecond

// Snapshot is a leased reader. Release must be called exactly once per
// successful Acquire.
type Snapshot struct {
	Reader *indexer.Reader
	refs   atomic.Int32
	logger *slog.Logger
}

func newSnapshot(r *indexer.Reader, logger *slog.Logger) *Snapshot {
	s := &Snapshot{Reader: r, logger: logger}
	s.refs.Store(1)
	return s
}

// Retain takes another reference on a snapshot the caller already holds.
// Each Retain needs its own Release.
func (s *Snapshot) Retain() *Snapshot {
	s.refs.Add(1)
	return s
}

func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 {
		if err := s.Reader.Close(); err != nil {
			s.logger.Error("closing retired reader", "generation", s.Reader.Generation(), "error", err)
		}
	}
}

// Manager owns the current Snapshot of a directory.
type Manager struct {
	dir     string
	mu      sync.Mutex
	current *Snapshot
	closed  bool
	// OnSwap, when set, is called after a newer generation is installed.
	OnSwap func(generation int64)
	logger *slog.Logger
}

// NewManager opens the committed index in dir if there is one. A directory
// without a commit is not an error: Acquire reports ErrNotFound until a
// Reload finds one.
func NewManager(ctx context.Context, dir string) (*Manager, error) {
	m := &Manager{
		dir:    dir,
		logger: slog.Default().With("component", "snapshot-manager", "dir", dir),
	}
	if _, err := m.Reload(ctx); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return m, nil
}

// Acquire leases the current snapshot.
func (m *Manager) Acquire() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperrors.Op(apperrors.ErrInvalidState, "acquire snapshot", "manager is closed")
	}
	if m.current == nil {
		return nil, apperrors.Op(apperrors.ErrNotFound, "acquire snapshot", "no committed index in %s", m.dir)
	}
	m.current.refs.Add(1)
	return m.current, nil
}

// Generation returns the generation being served, 0 when none.
func (m *Manager) Generation() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.Reader.Generation()
}

// Reload opens the latest commit and installs it when it is newer than the
// one being served. It reports whether a swap happened.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	r, err := indexer.OpenReader(ctx, m.dir)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	if m.closed || (m.current != nil && m.current.Reader.Generation() >= r.Generation()) {
		m.mu.Unlock()
		r.Close()
		return false, nil
	}
	old := m.current
	m.current = newSnapshot(r, m.logger)
	onSwap := m.OnSwap
	m.mu.Unlock()

	if old != nil {
		old.Release()
	}
	m.logger.Info("index snapshot installed",
		"generation", r.Generation(),
		"docs", r.DocCount(),
		"segments", len(r.Segments()),
	)
	if onSwap != nil {
		onSwap(r.Generation())
	}
	return true, nil
}

// Watch reloads whenever the manifest of the directory changes, until ctx
// is done.
func (m *Manager) Watch(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return apperrors.IO("creating index directory", m.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watching %s: %w", m.dir, err)
	}
	m.logger.Info("watching index directory")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != indexer.ManifestName || !event.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if _, err := m.Reload(ctx); err != nil {
				m.logger.Error("reloading index snapshot", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("watcher error", "error", err)
		}
	}
}

// Close releases the manager's hold on the current snapshot. Leased
// snapshots stay usable until released.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.current != nil {
		m.current.Release()
		m.current = nil
	}
	return nil
}
