// Package schema implements the minimal structural value validation the
// table engine needs: required fields, type tags and payload equality.
// It is intentionally not a general JSON-Schema engine — the data-schema
// validator is an external collaborator per the system's scope, and the
// table engine only needs the three operations below.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// FieldType enumerates the scalar/composite kinds a field may declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBool    FieldType = "bool"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// Field is one declared member of a value schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// ValueSchema is the compiled form of a TableDefinition.ValueSchema
// document: a flat list of typed, optionally required top-level fields.
// Unknown fields in a payload are permitted (forward-compatible reads).
type ValueSchema struct {
	Fields []Field
}

// Parse compiles a raw value-schema document (a JSON array of Field) into
// a ValueSchema.
func Parse(raw json.RawMessage) (*ValueSchema, error) {
	if len(raw) == 0 {
		return &ValueSchema{}, nil
	}
	var fields []Field
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &dbderr.SchemaError{Detail: fmt.Sprintf("invalid value schema: %v", err)}
	}
	return &ValueSchema{Fields: fields}, nil
}

// Verify reports whether payload satisfies every required field and
// every declared field's type, if present.
func (s *ValueSchema) Verify(payload json.RawMessage) error {
	if s == nil || len(s.Fields) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return &dbderr.SchemaError{Detail: fmt.Sprintf("value is not a JSON object: %v", err)}
	}
	for _, f := range s.Fields {
		v, present := obj[f.Name]
		if !present {
			if f.Required {
				return &dbderr.SchemaError{Detail: fmt.Sprintf("missing required field %q", f.Name)}
			}
			continue
		}
		if err := verifyType(f.Name, f.Type, v); err != nil {
			return err
		}
	}
	return nil
}

func verifyType(name string, want FieldType, raw json.RawMessage) error {
	if want == TypeAny {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return &dbderr.SchemaError{Detail: fmt.Sprintf("field %q: %v", name, err)}
	}
	ok := false
	switch want {
	case TypeString:
		_, ok = v.(string)
	case TypeNumber:
		_, ok = v.(float64)
	case TypeBool:
		_, ok = v.(bool)
	case TypeObject:
		_, ok = v.(map[string]any)
	case TypeArray:
		_, ok = v.([]any)
	}
	if !ok {
		return &dbderr.SchemaError{Detail: fmt.Sprintf("field %q: expected %s", name, want)}
	}
	return nil
}

// Equal reports whether two payloads are equal for the purpose of the
// single-timeline payload-equality commit skip (universal property 5).
// Canonicalized by unmarshal/remarshal so key order never defeats it.
func Equal(a, b json.RawMessage) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}
	ca, err1 := canonical(a)
	cb, err2 := canonical(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func canonical(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return canonicalValue(v), nil
}

func canonicalValue(v any) []byte {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(canonicalValue(t[k]))
		}
		buf.WriteByte('}')
		return buf.Bytes()
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(canonicalValue(e))
		}
		buf.WriteByte(']')
		return buf.Bytes()
	default:
		b, _ := json.Marshal(t)
		return b
	}
}

// Compatibility decides whether evolving a table from old to new
// TableDefinition is a no-op change, needs a reindex, or is rejected.
// Narrowing or retyping a previously-declared field needs a reindex;
// everything else (new optional fields, relaxing a requirement) is
// compatible in place.
func CompatibilityOf(oldDef, newDef types.TableDefinition) (types.Compatibility, error) {
	oldSchema, err := Parse(oldDef.ValueSchema)
	if err != nil {
		return types.Incompatible, err
	}
	newSchema, err := Parse(newDef.ValueSchema)
	if err != nil {
		return types.Incompatible, err
	}
	if oldDef.Versioning != newDef.Versioning {
		return types.Incompatible, &dbderr.SchemaError{Detail: "cannot change a table's versioning type"}
	}

	byName := make(map[string]Field, len(oldSchema.Fields))
	for _, f := range oldSchema.Fields {
		byName[f.Name] = f
	}
	needsReindex := false
	for _, nf := range newSchema.Fields {
		of, existed := byName[nf.Name]
		if !existed {
			continue
		}
		if of.Type != nf.Type {
			needsReindex = true
		}
		if !of.Required && nf.Required {
			needsReindex = true
		}
	}
	if needsReindex {
		return types.NeedsReindex, nil
	}
	return types.Compatible, nil
}
