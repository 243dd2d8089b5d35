// Package records reads the question and answer records an index is built
// from. A Source pages through one table in id order.
package records

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// Record is one row: its domain id and its column values. A NULL column is
// absent from Fields.
type Record struct {
	ID     int64
	Fields map[string]string
}

// Source is a paged, id-ordered view of one table.
type Source interface {
	Count(ctx context.Context) (int64, error)
	// List returns at most limit records after skipping offset, ascending
	// by id. A short page means the source is exhausted.
	List(ctx context.Context, offset, limit int) ([]Record, error)
	// Get returns the record with id, or an ErrNotFound error.
	Get(ctx context.Context, id int64) (Record, error)
}

// MemorySource is a Source over records held in memory.
type MemorySource struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemorySource(records ...Record) *MemorySource {
	m := &MemorySource{}
	for _, r := range records {
		m.Put(r)
	}
	return m
}

// Put inserts r or replaces the record with the same id.
func (m *MemorySource) Put(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.records), func(i int) bool { return m.records[i].ID >= r.ID })
	if i < len(m.records) && m.records[i].ID == r.ID {
		m.records[i] = r
		return
	}
	m.records = append(m.records, Record{})
	copy(m.records[i+1:], m.records[i:])
	m.records[i] = r
}

func (m *MemorySource) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.records), func(i int) bool { return m.records[i].ID >= id })
	if i < len(m.records) && m.records[i].ID == id {
		m.records = append(m.records[:i], m.records[i+1:]...)
	}
}

func (m *MemorySource) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), ctx.Err()
}

func (m *MemorySource) List(ctx context.Context, offset, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || limit <= 0 {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "list records", "offset %d limit %d", offset, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if offset >= len(m.records) {
		return []Record{}, nil
	}
	end := min(len(m.records), offset+limit)
	out := make([]Record, end-offset)
	copy(out, m.records[offset:end])
	return out, nil
}

func (m *MemorySource) Get(ctx context.Context, id int64) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.records), func(i int) bool { return m.records[i].ID >= id })
	if i < len(m.records) && m.records[i].ID == id {
		return m.records[i], nil
	}
	return Record{}, apperrors.Op(apperrors.ErrNotFound, "get record", "id %d", id)
}
