package table

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/schema"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// SelfSchemasTableDefinition is the reserved table storing every other
// table's own TableDefinition, keyed by object id = table id. It is
// single-timeline (a definition has no activation concept of its own)
// and force_update, so re-registering the same table id with an
// unchanged definition still writes through rather than being skipped
// by the single-timeline payload-equality no-op rule - callers decide
// whether a change is worth applying via CompatibilityOf before calling
// Register, not by relying on that skip. Grounded on SCHEMA_TABLE /
// SchemaDocument in the original implementation.
func SelfSchemasTableDefinition() types.TableDefinition {
	return types.TableDefinition{
		ID:          SchemaTableID,
		Versioning:  types.SingleTimeline,
		ForceUpdate: true,
	}
}

// ExtractTableDefinitions reads every live record out of the loaded
// self-schemas table's single-timeline data and decodes it back into
// the TableDefinition it stores.
func ExtractTableDefinitions(schemaState *OperationalState) ([]types.TableDefinition, error) {
	single, ok := schemaState.Data.SingleVersioned()
	if !ok {
		return nil, &dbderr.WrongVersioningTypeError{TableID: string(SchemaTableID), Got: "query", Want: string(types.SingleTimeline)}
	}
	defs := make([]types.TableDefinition, 0, len(single.objects))
	for objectID, doc := range single.objects {
		var def types.TableDefinition
		if err := json.Unmarshal(doc.Value.Value, &def); err != nil {
			return nil, &dbderr.InconsistentDataError{TableID: string(SchemaTableID), DocID: string(doc.DocID)}
		}
		if types.TableID(objectID) != def.ID {
			return nil, &dbderr.InconsistentDataError{TableID: string(SchemaTableID), DocID: string(doc.DocID)}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func schemaObjectID(tableID types.TableID) types.ObjectID {
	return types.ObjectID(tableID)
}

// writeSchemaRecord upserts def's own record in the self-schemas table
// and flushes it to the backend. The self-schemas table is acquired as
// a reader, like any other table - its own DataLock, not a full write
// acquisition, is what serializes the derive-commit sequence against
// concurrent RegisterTable/UnregisterTable calls for other tables.
func writeSchemaRecord(ctx context.Context, r *Registry, def types.TableDefinition, now time.Time) error {
	guard, err := r.ReadTable(SchemaTableID)
	if err != nil {
		return err
	}
	defer guard.Release()

	single, ok := guard.State.Data.SingleVersioned()
	if !ok {
		return &dbderr.WrongVersioningTypeError{TableID: string(SchemaTableID), Got: "query", Want: string(types.SingleTimeline)}
	}

	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}

	guard.State.DataLock.Lock()
	tx := NewSingleVersionedTransaction(single)
	objectID := schemaObjectID(def.ID)
	if !tx.Update(objectID, payload) {
		tx.Insert(objectID, payload)
	}
	batch := tx.Commit(now, guard.State.Definition.ForceUpdate, EncodeSingleVersionedValue)
	guard.State.DataLock.Unlock()

	return batch.Flush(ctx, r.backend, SchemaTableID)
}

// removeSchemaRecord deletes tableID's own record from the self-schemas
// table, acquiring it as a reader for the same reason writeSchemaRecord
// does.
func removeSchemaRecord(ctx context.Context, r *Registry, tableID types.TableID, now time.Time) error {
	guard, err := r.ReadTable(SchemaTableID)
	if err != nil {
		return err
	}
	defer guard.Release()

	single, ok := guard.State.Data.SingleVersioned()
	if !ok {
		return &dbderr.WrongVersioningTypeError{TableID: string(SchemaTableID), Got: "query", Want: string(types.SingleTimeline)}
	}

	guard.State.DataLock.Lock()
	tx := NewSingleVersionedTransaction(single)
	tx.Remove(schemaObjectID(tableID))
	batch := tx.Commit(now, guard.State.Definition.ForceUpdate, EncodeSingleVersionedValue)
	guard.State.DataLock.Unlock()

	return batch.Flush(ctx, r.backend, SchemaTableID)
}

// RegisterTable is the idempotent upsert behind the register_table RPC:
// if tableID is unregistered, it creates the table in the backend and
// loads its (empty) operational state; if it is already registered
// with the identical definition, it is a no-op; if already registered
// with a differing definition, it evolves the table in place
// (Compatible) or via a backend-driven reindex (NeedsReindex). Only
// when the table's stored operational state actually changes does it
// also rewrite the table's own record in the self-schemas table.
// Mirrors dbdaemon.rs's register_table.
func (r *Registry) RegisterTable(ctx context.Context, def types.TableDefinition, now time.Time) error {
	if _, err := schema.Parse(def.ValueSchema); err != nil {
		return err
	}

	guard, err := r.WriteTable(def.ID, MarkerRegistering, true)
	if err != nil {
		return err
	}

	var state *OperationalState
	var changed bool

	switch {
	case guard.Prior == nil:
		if err := r.backend.CreateTable(ctx, def.ID, def); err != nil {
			guard.Release(nil)
			return err
		}
		loaded, err := LoadOperationalState(ctx, r.backend, def)
		if err != nil {
			guard.Release(nil)
			return err
		}
		state, changed = loaded, true

	case definitionsEqual(guard.Prior.Definition, def):
		state, changed = guard.Prior, false

	default:
		oldDef := guard.Prior.Definition
		compat, err := schema.CompatibilityOf(oldDef, def)
		if err != nil {
			guard.Release(guard.Prior)
			return err
		}
		if compat == types.Incompatible {
			guard.Release(guard.Prior)
			return &dbderr.SchemaError{Detail: "schema change is incompatible"}
		}
		if compat == types.NeedsReindex {
			if err := r.backend.ReindexTable(ctx, def.ID, oldDef, def); err != nil {
				guard.Release(guard.Prior)
				return err
			}
		} else {
			if err := r.backend.UpdateTable(ctx, def.ID, def); err != nil {
				guard.Release(guard.Prior)
				return err
			}
		}
		loaded, err := LoadOperationalState(ctx, r.backend, def)
		if err != nil {
			guard.Release(guard.Prior)
			return err
		}
		state, changed = loaded, true
	}

	if changed {
		if err := writeSchemaRecord(ctx, r, def, now); err != nil {
			guard.Release(state)
			return err
		}
	}
	guard.Release(state)
	return nil
}

func definitionsEqual(a, b types.TableDefinition) bool {
	return a.ID == b.ID &&
		a.Versioning == b.Versioning &&
		a.ForceUpdate == b.ForceUpdate &&
		schema.Equal(a.ValueSchema, b.ValueSchema)
}

// UnregisterTable removes a table entirely: its record in the
// self-schemas table, its data in the backend, and its registry slot.
// A no-op if tableID is not registered. Mirrors unregister_table.
func (r *Registry) UnregisterTable(ctx context.Context, tableID types.TableID, now time.Time) error {
	guard, err := r.WriteTable(tableID, MarkerUnregistering, false)
	if err != nil {
		if _, ok := err.(*dbderr.TableNotFoundError); ok {
			return nil
		}
		return err
	}
	if guard.Prior == nil {
		guard.Release(nil)
		return nil
	}

	if err := removeSchemaRecord(ctx, r, tableID, now); err != nil {
		guard.Release(guard.Prior)
		return err
	}
	if err := r.backend.RemoveTable(ctx, tableID); err != nil {
		guard.Release(guard.Prior)
		return err
	}
	guard.Release(nil)
	return nil
}
