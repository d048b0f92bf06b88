package table

import (
	"cmp"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Table is an attribute table with an ordered schema.
type Table struct {
	fields []Field
	index  map[string]int
	rows   []*Row
}

// New creates an empty table with the given schema.
func New(fields ...Field) *Table {
	t := &Table{index: make(map[string]int)}
	for _, f := range fields {
		_ = t.AddField(f)
	}
	return t
}

// Fields returns a copy of the schema.
func (t *Table) Fields() []Field {
	return slices.Clone(t.fields)
}

// FieldNames returns the schema's field names in order.
func (t *Table) FieldNames() []string {
	names := make([]string, len(t.fields))
	for i, f := range t.fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a field by name.
func (t *Table) Field(name string) (Field, bool) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// HasField reports whether the schema contains name.
func (t *Table) HasField(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AddField adds f to the schema. A field with the same name is replaced in
// place and its values are cleared, so adding a field twice never
// duplicates it.
func (t *Table) AddField(f Field) error {
	if f.Name == "" {
		return eris.New("table: empty field name")
	}
	if f.Type == String && f.Length <= 0 {
		f.Length = DefaultStringLength
	}
	if i, ok := t.index[f.Name]; ok {
		t.fields[i] = f
		t.clear(f.Name)
		return nil
	}
	t.index[f.Name] = len(t.fields)
	t.fields = append(t.fields, f)
	return nil
}

// DeleteField drops a field and its values. It reports whether the field
// existed.
func (t *Table) DeleteField(name string) bool {
	i, ok := t.index[name]
	if !ok {
		return false
	}
	t.fields = slices.Delete(t.fields, i, i+1)
	delete(t.index, name)
	for j := i; j < len(t.fields); j++ {
		t.index[t.fields[j].Name] = j
	}
	t.clear(name)
	return true
}

func (t *Table) clear(name string) {
	for _, r := range t.rows {
		r.Set(name, nil)
	}
}

// Append adds rows to the end of the table.
func (t *Table) Append(rows ...*Row) {
	t.rows = append(t.rows, rows...)
}

// Len is the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns the rows in table order. The slice is shared.
func (t *Table) Rows() []*Row {
	return t.rows
}

// All iterates the rows in table order.
func (t *Table) All() iter.Seq[*Row] {
	return slices.Values(t.rows)
}

// Filter keeps only the rows at the given indices, in table order.
func (t *Table) Filter(keep []int) {
	kept := make([]*Row, 0, len(keep))
	for _, i := range keep {
		if i >= 0 && i < len(t.rows) {
			kept = append(kept, t.rows[i])
		}
	}
	t.rows = kept
}

// Clone returns a deep copy of the schema and row values. Geometries are
// shared.
func (t *Table) Clone() *Table {
	c := New(t.fields...)
	c.rows = make([]*Row, len(t.rows))
	for i, r := range t.rows {
		c.rows[i] = r.clone()
	}
	return c
}

// SortBy stably sorts the rows ascending by a field.
func (t *Table) SortBy(key string) error {
	f, ok := t.Field(key)
	if !ok {
		return eris.Wrapf(ErrNoField, "sort by %q", key)
	}
	switch f.Type {
	case String:
		slices.SortStableFunc(t.rows, func(a, b *Row) int {
			return strings.Compare(a.String(key), b.String(key))
		})
	case Integer, OID:
		slices.SortStableFunc(t.rows, func(a, b *Row) int {
			return cmp.Compare(intKey(a, key), intKey(b, key))
		})
	default:
		slices.SortStableFunc(t.rows, func(a, b *Row) int {
			return compareValues(a.Get(key), b.Get(key))
		})
	}
	return nil
}

// Distinct returns a new table holding key and fields, one row per
// distinct key value, ordered ascending by key. Rows without a key value
// are dropped; for repeated keys the first row in table order wins.
func (t *Table) Distinct(key string, fields ...string) (*Table, error) {
	kf, ok := t.Field(key)
	if !ok {
		return nil, eris.Wrapf(ErrNoField, "distinct on %q", key)
	}
	schema := []Field{kf}
	for _, name := range fields {
		if name == key {
			continue
		}
		f, ok := t.Field(name)
		if !ok {
			return nil, eris.Wrapf(ErrNoField, "distinct field %q", name)
		}
		schema = append(schema, f)
	}

	out := New(schema...)
	for _, r := range t.rows {
		if !r.Has(key) {
			continue
		}
		nr := &Row{values: make(map[string]any, len(schema))}
		for _, f := range schema {
			if v := r.Get(f.Name); v != nil {
				nr.values[f.Name] = v
			}
		}
		out.rows = append(out.rows, nr)
	}
	if err := out.SortBy(key); err != nil {
		return nil, err
	}
	out.rows = slices.CompactFunc(out.rows, func(a, b *Row) bool {
		return compareValues(a.Get(key), b.Get(key)) == 0
	})
	return out, nil
}

func intKey(r *Row, key string) int64 {
	n, ok := r.Int(key)
	if !ok {
		return minKey
	}
	return n
}

const minKey = -1 << 63

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
		if y, ok := b.(float64); ok {
			return cmp.Compare(float64(x), y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, float64(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(formatValue(a), formatValue(b))
}
