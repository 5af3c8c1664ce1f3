package docstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

func TestFilterActiveDual(t *testing.T) {
	live := json.RawMessage(`{"version":{"active":{"created":"2024-01-01T00:00:00Z","from":"2024-01-01T00:00:00Z"}}}`)
	closed := json.RawMessage(`{"version":{"active":{"created":"2024-01-01T00:00:00Z","from":"2024-01-01T00:00:00Z","to":"2024-06-01T00:00:00Z"}}}`)

	f := FilterActiveDual()
	if !f.Matches(live) {
		t.Fatalf("expected live document to match FilterActiveDual")
	}
	if f.Matches(closed) {
		t.Fatalf("expected closed document not to match FilterActiveDual")
	}
}

func TestRangeFilter(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f := RangeFilter([]string{"active"}, types.TimeRange{From: from, To: to})

	inside := json.RawMessage(`{"active":{"from":"2024-04-01T00:00:00Z"}}`)
	before := json.RawMessage(`{"active":{"from":"2024-01-01T00:00:00Z","to":"2024-02-01T00:00:00Z"}}`)
	after := json.RawMessage(`{"active":{"from":"2024-07-01T00:00:00Z"}}`)

	if !f.Matches(inside) {
		t.Fatalf("expected range-overlapping document to match")
	}
	if f.Matches(before) {
		t.Fatalf("expected document closed before range to not match")
	}
	if f.Matches(after) {
		t.Fatalf("expected document starting after range to not match")
	}
}

func TestAndOrNegate(t *testing.T) {
	doc := json.RawMessage(`{"a":1,"b":"x"}`)
	f := And(FieldEq([]string{"a"}, float64(1)), FieldEq([]string{"b"}, "x"))
	if !f.Matches(doc) {
		t.Fatalf("expected AND filter to match")
	}
	if Negate(f).Matches(doc) {
		t.Fatalf("expected negated AND filter to not match")
	}
	g := Or(FieldEq([]string{"a"}, float64(2)), FieldEq([]string{"b"}, "x"))
	if !g.Matches(doc) {
		t.Fatalf("expected OR filter to match")
	}
}

func TestSortFieldLess(t *testing.T) {
	s := SortField{Path: []string{"from"}}
	a := json.RawMessage(`{"from":"2024-01-01T00:00:00Z"}`)
	b := json.RawMessage(`{"from":"2024-02-01T00:00:00Z"}`)
	if !s.Less(a, b) {
		t.Fatalf("expected a to sort before b")
	}
	if s.Less(b, a) {
		t.Fatalf("expected b to not sort before a")
	}
}
