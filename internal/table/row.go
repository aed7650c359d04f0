package table

import (
	"bytes"
	"encoding/json"
)

// Row is one decoded table row. Values are int for numeric columns and string
// otherwise; column order follows the device header.
type Row struct {
	columns []string
	values  map[string]any
}

// Report is the decoded table, in device order.
type Report []Row

// NewRow builds a row from values keyed by the names in columns.
func NewRow(columns []string, values map[string]any) Row {
	return Row{columns: append([]string(nil), columns...), values: values}
}

// Columns returns the row's column names in header order.
func (r Row) Columns() []string { return append([]string(nil), r.columns...) }

// Get returns the value of col.
func (r Row) Get(col string) (any, bool) {
	v, ok := r.values[col]
	return v, ok
}

// Int returns the value of col if it was coerced to an integer.
func (r Row) Int(col string) (int, bool) {
	v, ok := r.values[col].(int)
	return v, ok
}

// String returns the value of col formatted as text.
func (r Row) String(col string) string {
	switch v := r.values[col].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Map returns a copy of the row's values.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the row as an object with keys in header order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[col])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
