package table

import (
	"fmt"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
)

// Row is one table record. Geom is optional.
type Row struct {
	Geom   geom.T
	values map[string]any
}

// NewRow builds a row from values.
func NewRow(values map[string]any, g geom.T) *Row {
	r := &Row{Geom: g, values: make(map[string]any, len(values))}
	for k, v := range values {
		r.Set(k, v)
	}
	return r
}

// Get returns the raw value of a field, nil when absent.
func (r *Row) Get(name string) any {
	return r.values[name]
}

// Set stores v under name. A nil v clears the value.
func (r *Row) Set(name string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if v == nil {
		delete(r.values, name)
		return
	}
	r.values[name] = normalize(v)
}

// Has reports whether the row carries a value for name.
func (r *Row) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// String returns the value as text; empty when absent.
func (r *Row) String(name string) string {
	return formatValue(r.values[name])
}

// Int returns the value as an integer.
func (r *Row) Int(name string) (int64, bool) {
	switch v := r.values[name].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Float returns the value as a float.
func (r *Row) Float(name string) (float64, bool) {
	switch v := r.values[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Values returns a copy of the row's values.
func (r *Row) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *Row) clone() *Row {
	return &Row{Geom: r.Geom, values: r.Values()}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return x.Format(time.DateOnly)
	}
	return fmt.Sprint(v)
}
