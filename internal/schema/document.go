// Package schema holds the loosely typed JSON documents exchanged with the
// management side and the deep merge used to assemble them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Document is a decoded JSON object.
type Document map[string]any

// Decode parses a JSON object. Numbers are kept as float64.
func Decode(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document is not an object")
	}
	return doc, nil
}

// Merge copies src into dst. When a key exists in dst and both values are
// objects, the merge recurses; any other value from src replaces the value
// in dst. Only the keys of src are visited, so the result depends on the
// order of repeated merges.
func Merge(dst, src Document) {
	for k, sv := range src {
		if dv, ok := dst[k]; ok {
			dm, dok := asObject(dv)
			sm, sok := asObject(sv)
			if dok && sok {
				Merge(dm, sm)
				dst[k] = dm
				continue
			}
		}
		dst[k] = cloneValue(sv)
	}
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func asObject(v any) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, m != nil
	case map[string]any:
		return Document(m), m != nil
	}
	return nil, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return Document(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Bool returns d[key] when it is a JSON boolean.
func (d Document) Bool(key string) (bool, bool) {
	b, ok := d[key].(bool)
	return b, ok
}

// Float returns d[key] when it is a number.
func (d Document) Float(key string) (float64, bool) {
	switch n := d[key].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

// Int returns d[key] when it is an integral number. Fractional or
// non-numeric values are reported as missing.
func (d Document) Int(key string) (int64, bool) {
	switch n := d[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

// String returns d[key] when it is a string.
func (d Document) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// Object returns d[key] when it is a nested object.
func (d Document) Object(key string) (Document, bool) {
	return asObject(d[key])
}

// Array returns d[key] when it is an array.
func (d Document) Array(key string) ([]any, bool) {
	a, ok := d[key].([]any)
	return a, ok
}

// Has reports whether key is present, whatever its type.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}
