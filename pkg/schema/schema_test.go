package schema

import (
	"encoding/json"
	"testing"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

func TestValueSchemaVerify(t *testing.T) {
	raw := json.RawMessage(`[
		{"name":"name","type":"string","required":true},
		{"name":"count","type":"number","required":false}
	]`)
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid with optional", `{"name":"a","count":3}`, false},
		{"valid without optional", `{"name":"a"}`, false},
		{"missing required", `{"count":3}`, true},
		{"wrong type", `{"name":"a","count":"nope"}`, true},
		{"not an object", `[1,2,3]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Verify(json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify(%s) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	a := json.RawMessage(`{"a":1,"b":2}`)
	b := json.RawMessage(`{"b":2,"a":1}`)
	if !Equal(a, b) {
		t.Fatalf("expected equal payloads regardless of key order")
	}
	c := json.RawMessage(`{"a":1,"b":3}`)
	if Equal(a, c) {
		t.Fatalf("expected unequal payloads to differ")
	}
}

func TestCompatibilityOf(t *testing.T) {
	oldDef := types.TableDefinition{
		Versioning:  types.SingleTimeline,
		ValueSchema: json.RawMessage(`[{"name":"a","type":"string","required":false}]`),
	}
	compatibleDef := types.TableDefinition{
		Versioning:  types.SingleTimeline,
		ValueSchema: json.RawMessage(`[{"name":"a","type":"string","required":false},{"name":"b","type":"number","required":false}]`),
	}
	reindexDef := types.TableDefinition{
		Versioning:  types.SingleTimeline,
		ValueSchema: json.RawMessage(`[{"name":"a","type":"string","required":true}]`),
	}

	got, err := CompatibilityOf(oldDef, compatibleDef)
	if err != nil || got != types.Compatible {
		t.Fatalf("expected Compatible, got %v err %v", got, err)
	}

	got, err = CompatibilityOf(oldDef, reindexDef)
	if err != nil || got != types.NeedsReindex {
		t.Fatalf("expected NeedsReindex, got %v err %v", got, err)
	}
}
