package section

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Data is the content of one section of a job record.
type Data map[string]any

// Normalize returns a deep copy of d in decoded-JSON form.
//
// The copy is produced by a canonical encode followed by a JSON decode, so
// integers become float64 and nested maps become map[string]any. A nil input
// yields an empty, non-nil Data.
func Normalize(d Data) (Data, error) {
	if d == nil {
		return Data{}, nil
	}
	raw, err := MarshalCanonical(d)
	if err != nil {
		return nil, fmt.Errorf("normalize section: %w", err)
	}
	return Decode(raw)
}

// Decode parses canonical (or any) JSON object bytes into Data.
func Decode(raw []byte) (Data, error) {
	var out Data
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode section: %w", err)
	}
	if out == nil {
		out = Data{}
	}
	return out, nil
}

// Clone deep-copies already-normalized data. Values that are not decoded-JSON
// types are shared, not copied.
func Clone(d Data) Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Data:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Lookup resolves a dotted path such as "scenarios.base" inside d.
func Lookup(d Data, path string) (any, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		var obj map[string]any
		switch m := cur.(type) {
		case map[string]any:
			obj = m
		case Data:
			obj = m
		default:
			return nil, false
		}
		next, ok := obj[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Number reports v as a float64 when it is numeric.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Kind names the JSON kind of v: null, bool, number, string, array or object.
func Kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64, float32, int, int32, int64, uint, uint64, json.Number:
		return "number"
	case string:
		return "string"
	case []any, []string, []float64:
		return "array"
	case map[string]any, Data:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
