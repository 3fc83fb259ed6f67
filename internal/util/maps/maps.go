package maps

import (
	"cmp"
	stdmaps "maps"
	"slices"
)

// Clone returns a shallow clone of the input map.
// It returns nil for nil or empty input so cloned configs keep omitting
// empty sections when serialized.
func Clone[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return stdmaps.Clone(m)
}

// Merge returns a new map holding base overlaid with override. Keys in
// override win; keys only in base survive. Nil when both are empty.
func Merge[K comparable, V any](base, override map[K]V) map[K]V {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[K]V, len(base)+len(override))
	stdmaps.Copy(out, base)
	stdmaps.Copy(out, override)
	return out
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(stdmaps.Keys(m))
}
