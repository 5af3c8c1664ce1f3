package docstore

import (
	"encoding/json"
	"strconv"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

// FilterOp is the comparison a leaf Filter applies to the value found
// at Path.
type FilterOp int

const (
	OpEq FilterOp = iota
	OpNotEq
	OpLt
	OpLe
	OpGt
	OpGe
	OpExists
)

// Filter is a small composable predicate tree over a document's JSON
// fields, modeled on the FilterPath/Filter combinators of the original
// implementation's daemon/filters.rs. Backends that can't push filters
// down to a query engine evaluate them in-process with Matches.
type Filter struct {
	// Leaf form.
	Path []string
	Op   FilterOp
	Value any

	// Combinators. Exactly one of All/Any/Not/leaf is set.
	All []Filter
	Any []Filter
	Not *Filter
}

// MatchAll returns a filter that accepts every document.
func MatchAll() Filter {
	return Filter{All: []Filter{}}
}

// FieldEq builds a leaf equality filter.
func FieldEq(path []string, value any) Filter {
	return Filter{Path: path, Op: OpEq, Value: value}
}

// And combines filters with logical AND.
func And(filters ...Filter) Filter {
	return Filter{All: filters}
}

// Or combines filters with logical OR.
func Or(filters ...Filter) Filter {
	return Filter{Any: filters}
}

// Negate inverts a filter.
func Negate(f Filter) Filter {
	return Filter{Not: &f}
}

// FilterActiveSingle matches single-timeline documents whose version
// is currently live (value.version.to is absent).
func FilterActiveSingle() Filter {
	return Filter{Path: []string{"version", "to"}, Op: OpExists, Value: false}
}

// FilterActiveDual matches dual-timeline documents whose active
// anchor is present and live (value.version.active exists and
// value.version.active.to is absent).
func FilterActiveDual() Filter {
	return And(
		Filter{Path: []string{"version", "active"}, Op: OpExists, Value: true},
		Filter{Path: []string{"version", "active", "to"}, Op: OpExists, Value: false},
	)
}

// FilterCurrentDual matches dual-timeline documents whose current
// anchor is live (value.version.current.to is absent).
func FilterCurrentDual() Filter {
	return Filter{Path: []string{"version", "current", "to"}, Op: OpExists, Value: false}
}

// RangeFilter matches anchors overlapping the given time range,
// mirroring range_filter in the original implementation: `from <= range.to`
// and (`to` is absent or `to > range.from`).
func RangeFilter(path []string, r types.TimeRange) Filter {
	fromPath := append(append([]string{}, path...), "from")
	toPath := append(append([]string{}, path...), "to")

	var parts []Filter
	if !r.To.IsZero() {
		parts = append(parts, Filter{Path: fromPath, Op: OpLe, Value: r.To})
	}
	if !r.From.IsZero() {
		parts = append(parts, Or(
			Filter{Path: toPath, Op: OpExists, Value: false},
			Filter{Path: toPath, Op: OpGt, Value: r.From},
		))
	}
	return And(parts...)
}

// Matches evaluates the filter against a JSON document.
func (f Filter) Matches(raw json.RawMessage) bool {
	switch {
	case f.All != nil:
		for _, sub := range f.All {
			if !sub.Matches(raw) {
				return false
			}
		}
		return true
	case f.Any != nil:
		for _, sub := range f.Any {
			if sub.Matches(raw) {
				return true
			}
		}
		return len(f.Any) == 0
	case f.Not != nil:
		return !f.Not.Matches(raw)
	default:
		return f.matchLeaf(raw)
	}
}

func (f Filter) matchLeaf(raw json.RawMessage) bool {
	val, exists := lookupPath(raw, f.Path)
	switch f.Op {
	case OpExists:
		want, _ := f.Value.(bool)
		return exists == want
	case OpEq:
		return exists && compareEqual(val, f.Value)
	case OpNotEq:
		return !exists || !compareEqual(val, f.Value)
	case OpLt, OpLe, OpGt, OpGe:
		if !exists {
			return false
		}
		return compareOrdered(val, f.Value, f.Op)
	default:
		return false
	}
}

// lookupPath walks a dotted field path through a decoded JSON object,
// returning the value found and whether the path resolved to a
// non-null value.
func lookupPath(raw json.RawMessage, path []string) (any, bool) {
	var cur any
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil, false
	}
	for _, field := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[field]
		if !ok || v == nil {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func compareEqual(a, b any) bool {
	an, aok := toComparable(a)
	bn, bok := toComparable(b)
	if aok && bok {
		return an == bn
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	return false
}

func compareOrdered(a, b any, op FilterOp) bool {
	an, aok := toComparable(a)
	bn, bok := toComparable(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpLt:
		return an < bn
	case OpLe:
		return an <= bn
	case OpGt:
		return an > bn
	case OpGe:
		return an >= bn
	default:
		return false
	}
}

// toComparable normalizes JSON-decoded values and time.Time/RFC3339
// strings into a comparable string so time ranges and string/number
// equality both work through one path.
func toComparable(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		if t, ok := v.(interface{ Format(string) string }); ok {
			return t.Format(rfc3339Nano), true
		}
	}
	return "", false
}

const rfc3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

// SortOrder is the direction a SortField orders matching documents.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// SortField orders query results by the value found at Path.
type SortField struct {
	Path  []string
	Order SortOrder
}

// Less reports whether the document at raw a sorts before the
// document at raw b under this field.
func (s SortField) Less(a, b json.RawMessage) bool {
	va, aok := lookupPath(a, s.Path)
	vb, bok := lookupPath(b, s.Path)
	if !aok || !bok {
		return false
	}
	an, _ := toComparable(va)
	bn, _ := toComparable(vb)
	if s.Order == Descending {
		return an > bn
	}
	return an < bn
}
