// Package table holds attribute tables: an ordered field schema plus rows
// of values, with field propagation and CSV export.
package table

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnknownFieldType is returned when a field's type cannot be
// propagated to another table.
var ErrUnknownFieldType = eris.New("table: unknown field type")

// ErrNoField is returned when a named field does not exist.
var ErrNoField = eris.New("table: no such field")

// FieldType is the storage type of a field.
type FieldType string

const (
	Integer FieldType = "Integer"
	OID     FieldType = "OID"
	String  FieldType = "String"
	Double  FieldType = "Double"
	Date    FieldType = "Date"
)

// Known reports whether t can be propagated.
func (t FieldType) Known() bool {
	switch t {
	case Integer, OID, String, Double, Date:
		return true
	}
	return false
}

// Propagated returns the type a field takes when copied onto another
// table. Object ids become plain integers.
func (t FieldType) Propagated() (FieldType, error) {
	switch t {
	case OID:
		return Integer, nil
	case Integer, String, Double, Date:
		return t, nil
	}
	return "", eris.Wrapf(ErrUnknownFieldType, "%q", string(t))
}

// Field describes one column. Length applies to String fields.
type Field struct {
	Name   string
	Type   FieldType
	Length int
}

// DefaultStringLength is used for String fields declared without a length.
const DefaultStringLength = 254

// normalize coerces common Go numeric types to the canonical int64 and
// float64 representations.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	}
	return v
}
