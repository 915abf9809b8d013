package model

import (
	"fmt"
	"strings"
)

// FilterSet holds the active filter values of a view, keyed by filter key.
// Values may be scalars or slices. Sentinel values meaning "no constraint"
// are kept in the set for rendering but stripped before translation.
type FilterSet map[string]any

// unset sentinels, compared case-insensitively.
var unsetSentinels = map[string]bool{
	"any": true,
	"all": true,
}

// IsUnset reports whether a filter value expresses no constraint: nil,
// a blank string, an "Any"/"All" placeholder, or an empty slice. A boolean
// false is a real constraint.
func IsUnset(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(val)
		return trimmed == "" || unsetSentinels[strings.ToLower(trimmed)]
	case []string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

// Clean returns a copy with all unset values removed. The receiver is not
// modified.
func (f FilterSet) Clean() FilterSet {
	out := make(FilterSet, len(f))
	for k, v := range f {
		if !IsUnset(v) {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy of the set.
func (f FilterSet) Clone() FilterSet {
	out := make(FilterSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns a copy of the set with the override's entries applied on
// top. Neither input is modified.
func (f FilterSet) Merge(override FilterSet) FilterSet {
	out := f.Clone()
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Equal reports whether two sets express the same constraints. Sentinel
// values are ignored, so {"status": "Any"} and {} compare equal.
func (f FilterSet) Equal(other FilterSet) bool {
	a, b := f.Clean(), other.Clean()
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	as, aok := toStringSlice(a)
	bs, bok := toStringSlice(b)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	if aok != bok {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toStringSlice(v any) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []any:
		out := make([]string, len(vals))
		for i, e := range vals {
			out[i] = fmt.Sprint(e)
		}
		return out, true
	}
	return nil, false
}
