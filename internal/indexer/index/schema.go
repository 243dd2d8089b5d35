package index

import (
	"fmt"
	"strconv"

	"github.com/ippousyuga/search-lucene/internal/indexer/tokenizer"
	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// FieldType is the value type of a schema field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt64
)

func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldInt64:
		return "int64"
	default:
		return "unknown"
	}
}

func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*t = FieldText
	case "int64":
		*t = FieldInt64
	default:
		return fmt.Errorf("unknown field type %q", string(b))
	}
	return nil
}

// FieldSpec describes how one field is indexed and stored. Indexed text
// fields get postings; indexed int64 fields get point entries for exact and
// range lookups.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Indexed  bool      `json:"indexed" yaml:"indexed"`
	Stored   bool      `json:"stored" yaml:"stored"`
	Analyzer string    `json:"analyzer,omitempty" yaml:"analyzer,omitempty"`
}

// Schema is the ordered set of fields of an index. Field order fixes the
// ordinals used in the stored-fields encoding.
type Schema struct {
	Fields []FieldSpec `json:"fields"`
}

// NewSchema builds and validates a schema.
func NewSchema(fields ...FieldSpec) (Schema, error) {
	s := Schema{Fields: fields}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "schema has no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "field with empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Indexed && !f.Stored {
			return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "field %q is neither indexed nor stored", f.Name)
		}
		switch f.Type {
		case FieldText:
			if _, err := tokenizer.Lookup(f.Analyzer); err != nil {
				return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "field %q: %w", f.Name, err)
			}
		case FieldInt64:
			if f.Analyzer != "" {
				return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "int64 field %q cannot have an analyzer", f.Name)
			}
		default:
			return apperrors.Op(apperrors.ErrInvalidInput, "validate schema", "field %q has unknown type", f.Name)
		}
	}
	return nil
}

// Field returns the spec for name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Ordinal returns the position of name in the schema or -1.
func (s Schema) Ordinal(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// Analyzer returns the analyzer configured for a text field.
func (s Schema) Analyzer(field string) (tokenizer.Analyzer, error) {
	f, ok := s.Field(field)
	if !ok {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "analyzer", "unknown field %q", field)
	}
	if f.Type != FieldText {
		return nil, apperrors.Op(apperrors.ErrInvalidInput, "analyzer", "field %q is not a text field", field)
	}
	return tokenizer.Lookup(f.Analyzer)
}

// Check verifies that doc only uses schema fields with matching types.
func (s Schema) Check(doc Document) error {
	if len(doc) == 0 {
		return apperrors.Op(apperrors.ErrInvalidInput, "check document", "document has no fields")
	}
	for name, v := range doc {
		f, ok := s.Field(name)
		if !ok {
			return apperrors.Op(apperrors.ErrInvalidInput, "check document", "unknown field %q", name)
		}
		if f.Type != v.Type {
			return apperrors.Op(apperrors.ErrInvalidInput, "check document",
				"field %q expects %s, got %s", name, f.Type, v.Type)
		}
	}
	return nil
}

// Value is a typed field value.
type Value struct {
	Type FieldType
	Text string
	Int  int64
}

func Text(s string) Value { return Value{Type: FieldText, Text: s} }

func Int(i int64) Value { return Value{Type: FieldInt64, Int: i} }

func (v Value) String() string {
	if v.Type == FieldInt64 {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Text
}

// Document maps field names to values.
type Document map[string]Value
