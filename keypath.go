package strata

import (
	"strconv"
	"strings"

	"github.com/oarkflow/convert"
)

// extractPath walks a decoded JSON tree (map[string]any / []any / scalars,
// the shape encoding/json produces) following a dotted path with optional
// trailing array markers: `.field`, `.a.b`, `.arr[]` (§6, §9).
//
// `.arr[]` returns the full slice at that path rather than descending into
// it further; anything after `[]` in the path is ignored, since the
// spec's path grammar only uses `[]` as a terminal marker.
func extractPath(doc any, path string) (any, bool) {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return doc, true
	}
	segments := strings.Split(path, ".")

	cur := doc
	for _, seg := range segments {
		arr := strings.HasSuffix(seg, "[]")
		name := strings.TrimSuffix(seg, "[]")

		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[name]
		if !ok {
			return nil, false
		}
		if arr {
			return next, true
		}
		cur = next
	}
	return cur, true
}

// toStringKey renders an extracted field value into the string form
// stored as an index key. Strings and bools render as their natural
// string form; other values render as the shortest decimal form of
// convert.ToFloat64's result, and values it cannot convert (and nil) yield
// ok == false.
func toStringKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", false
	default:
		f, ok := convert.ToFloat64(v)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(f, 'g', -1, 64), true
	}
}

// toStringSlice renders a `.arr[]`-extracted value into a list of index
// keys, one per element, for multi/FTS indexes.
func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		if s, ok := toStringKey(v); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, ok := toStringKey(el); ok {
			out = append(out, s)
		}
	}
	return out
}

// toFloatSlice renders a numeric array field into a vector, coercing each
// element (json.Number, int, float64) via convert.ToFloat64 (§6 vector
// index projector).
func toFloatSlice(v any) ([]float64, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(arr))
	for _, el := range arr {
		f, ok := convert.ToFloat64(el)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}
