// Package collection maps the configured collections (questions, answers)
// to their index directories, schemas and record tables.
package collection

import (
	"sort"
	"strings"

	"github.com/ippousyuga/search-lucene/internal/indexer/index"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// Collection is one searchable set of records. Each document carries the
// record id in IDField and its text in TextField.
type Collection struct {
	Name      string
	Dir       string
	IDField   string
	TextField string
	Schema    index.Schema
	Table     config.SourceTable
}

func New(cfg config.CollectionConfig) (Collection, error) {
	schema, err := index.NewSchema(
		index.FieldSpec{Name: cfg.IDField, Type: index.FieldInt64, Indexed: true, Stored: true},
		index.FieldSpec{Name: cfg.TextField, Type: index.FieldText, Indexed: true, Stored: true, Analyzer: cfg.Analyzer},
	)
	if err != nil {
		return Collection{}, err
	}
	if cfg.Dir == "" {
		return Collection{}, apperrors.Op(apperrors.ErrInvalidInput, "collection "+cfg.Name, "no index directory")
	}
	return Collection{
		Name:      cfg.Name,
		Dir:       cfg.Dir,
		IDField:   cfg.IDField,
		TextField: cfg.TextField,
		Schema:    schema,
		Table:     cfg.Source,
	}, nil
}

// Document converts a record to the document indexed for it. A record
// without text fails with ErrInvalidInput.
func (c Collection) Document(r records.Record) (index.Document, error) {
	text, ok := r.Fields[c.Table.TextColumn]
	if !ok {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "convert record", "%s %d has no %s", c.Name, r.ID, c.Table.TextColumn)
	}
	return index.Document{
		c.IDField:   index.Int(r.ID),
		c.TextField: index.Text(text),
	}, nil
}

// Registry looks collections up by name, ignoring case.
type Registry struct {
	byName map[string]Collection
}

func NewRegistry(cfgs []config.CollectionConfig) (*Registry, error) {
	r := &Registry{byName: make(map[string]Collection, len(cfgs))}
	for _, cfg := range cfgs {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(c.Name)
		if _, dup := r.byName[key]; dup {
			return nil, apperrors.Op(apperrors.ErrInvalidInput, "register collection", "duplicate collection %q", c.Name)
		}
		r.byName[key] = c
	}
	return r, nil
}

func (r *Registry) Get(name string) (Collection, error) {
	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Collection{}, apperrors.Op(apperrors.ErrNotFound, "lookup collection", "unknown collection %q", name)
	}
	return c, nil
}

// All returns the collections sorted by name.
func (r *Registry) All() []Collection {
	out := make([]Collection, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
