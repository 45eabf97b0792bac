// Package fieldmap turns nested business data and a nested field-name mapping
// into the flat list of PDF field assignments.
package fieldmap

import (
	"sort"
	"strings"
)

// MetadataPrefix marks mapping keys that carry comments or metadata
// rather than field names.
const MetadataPrefix = "_"

// Pair is one resolved assignment: the dotted data key, the PDF field it
// maps to and the value to write.
type Pair struct {
	Key   string `json:"key"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Flatten converts nested data into dotted-path keys. Arrays and null are leaves.
// When a literal dotted key and a nested path flatten to the same key, the
// more deeply nested value wins, so {"a.b": 1, "a": {"b": 2}} yields a.b=2.
func Flatten(data map[string]any) map[string]any {
	return newFlattener(false).run(data)
}

// FlattenMapping flattens a mapping document, skipping every key that starts
// with MetadataPrefix together with its subtree. Collisions resolve as in Flatten.
func FlattenMapping(mapping map[string]any) map[string]any {
	return newFlattener(true).run(mapping)
}

type flattener struct {
	skipMeta bool
	out      map[string]any
	depth    map[string]int
}

func newFlattener(skipMeta bool) *flattener {
	return &flattener{
		skipMeta: skipMeta,
		out:      make(map[string]any),
		depth:    make(map[string]int),
	}
}

func (f *flattener) run(obj map[string]any) map[string]any {
	f.walk("", obj, 1)
	return f.out
}

// walk visits keys in sorted order. On equal depth the later key wins.
func (f *flattener) walk(prefix string, obj map[string]any, depth int) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if f.skipMeta && strings.HasPrefix(key, MetadataPrefix) {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := obj[key].(map[string]any); ok {
			f.walk(path, nested, depth+1)
			continue
		}
		if d, seen := f.depth[path]; seen && d > depth {
			continue
		}
		f.out[path] = obj[key]
		f.depth[path] = depth
	}
}

// Merge overlays top on base and returns a new object. Nested objects present
// on both sides are merged recursively; any other collision is won by top.
// Neither input is modified.
func Merge(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		topObj, topIsObj := v.(map[string]any)
		baseObj, baseIsObj := out[k].(map[string]any)
		if topIsObj && baseIsObj {
			out[k] = Merge(baseObj, topObj)
			continue
		}
		out[k] = v
	}
	return out
}

// Resolve pairs each mapping entry with its data value, ordered by data key.
// Entries whose value is missing, null or an empty string are left out so
// that fields without data keep their template content.
func Resolve(data, mapping map[string]any) []Pair {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, key := range keys {
		field, ok := mapping[key].(string)
		if !ok || field == "" {
			continue
		}
		value, ok := data[key]
		if !ok || value == nil {
			continue
		}
		if s, isString := value.(string); isString && s == "" {
			continue
		}
		pairs = append(pairs, Pair{Key: key, Field: field, Value: value})
	}
	return pairs
}

// Build merges employer and student data (student wins), flattens the result
// and the mapping, and resolves the assignments.
func Build(employer, student, mapping map[string]any) []Pair {
	merged := Merge(employer, student)
	return Resolve(Flatten(merged), FlattenMapping(mapping))
}
