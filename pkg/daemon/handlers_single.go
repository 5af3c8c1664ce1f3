package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/table"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// singleEnvelope mirrors the flat wire shape pkg/table stores a
// single-timeline record as, so read paths that bypass the folded
// in-memory Data (history/at queries) can decode records straight off
// the backend.
type singleEnvelope struct {
	ObjectID types.ObjectID `json:"object_id"`
	Version  types.Anchor   `json:"version"`
	Value    json.RawMessage `json:"value"`
}

type objectParams struct {
	Table    types.TableID  `json:"table"`
	ObjectID types.ObjectID `json:"object_id,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

type objectReadParams struct {
	Table    types.TableID  `json:"table"`
	ObjectID types.ObjectID `json:"object_id"`
}

type objectAtParams struct {
	Table    types.TableID  `json:"table"`
	ObjectID types.ObjectID `json:"object_id"`
	At       time.Time      `json:"at"`
}

type objectHistoryParams struct {
	Table    types.TableID    `json:"table"`
	ObjectID types.ObjectID   `json:"object_id"`
	Range    *types.TimeRange `json:"range,omitempty"`
}

type queryParams struct {
	Table  types.TableID  `json:"table"`
	Filter docstore.Filter `json:"filter"`
	Limit  int             `json:"limit,omitempty"`
}

type queryAtParams struct {
	Table  types.TableID  `json:"table"`
	Filter docstore.Filter `json:"filter"`
	At     time.Time       `json:"at"`
}

type queryHistoryParams struct {
	Table  types.TableID   `json:"table"`
	Filter docstore.Filter `json:"filter"`
	Range  *types.TimeRange `json:"range,omitempty"`
}

type identifiedValue struct {
	ObjectID types.ObjectID  `json:"object_id"`
	Value    json.RawMessage `json:"value"`
}

type bulkUpdateParams struct {
	Table types.TableID                       `json:"table"`
	Ops   map[types.ObjectID]types.Operation `json:"ops"`
}

// withSingleWrite acquires tableID for reading, derives a commit under
// DataLock, then releases the lock before handing the resulting flush
// closure to the caller - the document store is never called while
// DataLock is held, matching the original implementation's block-scoped
// data guard (its scope ends before the backend call runs).
func (d *Daemon) withSingleWrite(tableID types.TableID, fn func(reg *table.Registry, guard *table.ReadGuard, sv *table.SingleVersionedData) (func() error, error)) error {
	guard, err := d.registry.ReadTable(tableID)
	if err != nil {
		return err
	}
	defer guard.Release()

	sv, ok := guard.State.Data.SingleVersioned()
	if !ok {
		return &dbderr.WrongVersioningTypeError{TableID: string(tableID), Got: "non-single-timeline", Want: "single-timeline"}
	}

	guard.State.DataLock.Lock()
	flush, err := fn(d.registry, guard, sv)
	guard.State.DataLock.Unlock()
	if err != nil || flush == nil {
		return err
	}
	return flush()
}

func (d *Daemon) registerSingleTimelineHandlers() {
	d.server.Handle("create_object", handle(func(ctx context.Context, p objectParams) (types.ObjectID, error) {
		objectID := p.ObjectID
		if objectID == "" {
			objectID = types.NewObjectID()
		}
		var created bool
		err := d.withSingleWrite(p.Table, func(reg *table.Registry, guard *table.ReadGuard, sv *table.SingleVersionedData) (func() error, error) {
			tx := table.NewSingleVersionedTransaction(sv)
			created = tx.Create(objectID, p.Value)
			if !created {
				return nil, nil
			}
			batch := tx.Commit(time.Now(), guard.State.Definition.ForceUpdate, table.EncodeSingleVersionedValue)
			return func() error { return batch.Flush(ctx, d.backend, p.Table) }, nil
		})
		if err != nil {
			return "", err
		}
		if !created {
			return "", &dbderr.ObjectIDExistsError{TableID: string(p.Table), ObjectID: string(objectID)}
		}
		return objectID, nil
	}))

	d.server.Handle("update_object", handleNoResult(func(ctx context.Context, p objectReadParams2) error {
		return d.singleUpsert(ctx, p.Table, p.ObjectID, p.Value, false)
	}))

	d.server.Handle("create_or_update_object", handleNoResult(func(ctx context.Context, p objectReadParams2) error {
		return d.singleUpsert(ctx, p.Table, p.ObjectID, p.Value, true)
	}))

	d.server.Handle("remove_object", handleNoResult(func(ctx context.Context, p objectReadParams) error {
		var removed bool
		err := d.withSingleWrite(p.Table, func(reg *table.Registry, guard *table.ReadGuard, sv *table.SingleVersionedData) (func() error, error) {
			tx := table.NewSingleVersionedTransaction(sv)
			removed = tx.Remove(p.ObjectID)
			if !removed {
				return nil, nil
			}
			batch := tx.Commit(time.Now(), guard.State.Definition.ForceUpdate, table.EncodeSingleVersionedValue)
			return func() error { return batch.Flush(ctx, d.backend, p.Table) }, nil
		})
		if err != nil {
			return err
		}
		if !removed {
			return &dbderr.ObjectDoesNotExistError{TableID: string(p.Table), ObjectID: string(p.ObjectID)}
		}
		return nil
	}))

	d.server.Handle("bulk_update_object", handleNoResult(func(ctx context.Context, p bulkUpdateParams) error {
		return d.withSingleWrite(p.Table, func(reg *table.Registry, guard *table.ReadGuard, sv *table.SingleVersionedData) (func() error, error) {
			tx := table.NewSingleVersionedTransaction(sv)
			for objectID, op := range p.Ops {
				switch op.Kind {
				case types.OpCreate:
					tx.Create(objectID, op.Value)
				case types.OpUpdate:
					tx.Update(objectID, op.Value)
				case types.OpCreateOrUpdate:
					tx.Insert(objectID, op.Value)
				case types.OpRemove:
					tx.Remove(objectID)
				}
			}
			batch := tx.Commit(time.Now(), guard.State.Definition.ForceUpdate, table.EncodeSingleVersionedValue)
			return func() error { return batch.Flush(ctx, d.backend, p.Table) }, nil
		})
	}))

	d.server.Handle("read_object", handle(func(ctx context.Context, p objectReadParams) (json.RawMessage, error) {
		guard, err := d.registry.ReadTable(p.Table)
		if err != nil {
			return nil, err
		}
		defer guard.Release()
		sv, ok := guard.State.Data.SingleVersioned()
		if !ok {
			return nil, &dbderr.WrongVersioningTypeError{TableID: string(p.Table), Got: "non-single-timeline", Want: "single-timeline"}
		}
		value, ok := sv.Get(p.ObjectID)
		if !ok {
			return nil, &dbderr.ObjectDoesNotExistError{TableID: string(p.Table), ObjectID: string(p.ObjectID)}
		}
		return value, nil
	}))

	d.server.Handle("read_object_maybe", handle(func(ctx context.Context, p objectReadParams) (json.RawMessage, error) {
		guard, err := d.registry.ReadTable(p.Table)
		if err != nil {
			return nil, err
		}
		defer guard.Release()
		sv, ok := guard.State.Data.SingleVersioned()
		if !ok {
			return nil, &dbderr.WrongVersioningTypeError{TableID: string(p.Table), Got: "non-single-timeline", Want: "single-timeline"}
		}
		value, _ := sv.Get(p.ObjectID)
		return value, nil
	}))

	d.server.Handle("read_objects", handle(func(ctx context.Context, p tableIDOnly) ([]identifiedValue, error) {
		records, err := d.backend.QueryObjects(ctx, p.Table, docstore.FilterActiveSingle(), nil, 0)
		if err != nil {
			return nil, err
		}
		return decodeSingleRecords(p.Table, records)
	}))

	d.server.Handle("query_object", handle(func(ctx context.Context, p queryParams) ([]identifiedValue, error) {
		filter := docstore.And(docstore.FilterActiveSingle(), p.Filter)
		records, err := d.backend.QueryObjects(ctx, p.Table, filter, nil, p.Limit)
		if err != nil {
			return nil, err
		}
		return decodeSingleRecords(p.Table, records)
	}))

	d.server.Handle("read_object_history", handle(func(ctx context.Context, p objectHistoryParams) ([]identifiedValue, error) {
		filter := docstore.FieldEq([]string{"object_id"}, string(p.ObjectID))
		if p.Range != nil {
			filter = docstore.And(filter, docstore.RangeFilter([]string{"version"}, *p.Range))
		}
		records, err := d.backend.QueryObjects(ctx, p.Table, filter, nil, 0)
		if err != nil {
			return nil, err
		}
		return decodeSingleRecords(p.Table, records)
	}))

	d.server.Handle("read_object_at", handle(func(ctx context.Context, p objectAtParams) (json.RawMessage, error) {
		filter := docstore.And(
			docstore.FieldEq([]string{"object_id"}, string(p.ObjectID)),
			docstore.RangeFilter([]string{"version"}, types.At(p.At)),
		)
		records, err := d.backend.QueryObjects(ctx, p.Table, filter, nil, 1)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, &dbderr.ObjectDoesNotExistError{TableID: string(p.Table), ObjectID: string(p.ObjectID)}
		}
		var env singleEnvelope
		if err := json.Unmarshal(records[0].Value, &env); err != nil {
			return nil, &dbderr.InconsistentDataError{TableID: string(p.Table), DocID: string(records[0].DocID)}
		}
		return env.Value, nil
	}))

	d.server.Handle("query_object_history", handle(func(ctx context.Context, p queryHistoryParams) ([]identifiedValue, error) {
		filter := p.Filter
		if p.Range != nil {
			filter = docstore.And(filter, docstore.RangeFilter([]string{"version"}, *p.Range))
		}
		records, err := d.backend.QueryObjects(ctx, p.Table, filter, nil, 0)
		if err != nil {
			return nil, err
		}
		return decodeSingleRecords(p.Table, records)
	}))

	d.server.Handle("query_object_at", handle(func(ctx context.Context, p queryAtParams) ([]identifiedValue, error) {
		filter := docstore.And(p.Filter, docstore.RangeFilter([]string{"version"}, types.At(p.At)))
		records, err := d.backend.QueryObjects(ctx, p.Table, filter, nil, 0)
		if err != nil {
			return nil, err
		}
		return decodeSingleRecords(p.Table, records)
	}))
}

// objectReadParams2 is objectParams with a required object id, used by
// the update/create-or-update family (the object id is never
// server-generated there).
type objectReadParams2 struct {
	Table    types.TableID   `json:"table"`
	ObjectID types.ObjectID  `json:"object_id"`
	Value    json.RawMessage `json:"value"`
}

type tableIDOnly struct {
	Table types.TableID `json:"table"`
}

func (d *Daemon) singleUpsert(ctx context.Context, tableID types.TableID, objectID types.ObjectID, value json.RawMessage, upsert bool) error {
	var ok bool
	err := d.withSingleWrite(tableID, func(reg *table.Registry, guard *table.ReadGuard, sv *table.SingleVersionedData) (func() error, error) {
		tx := table.NewSingleVersionedTransaction(sv)
		if upsert {
			tx.Insert(objectID, value)
			ok = true
		} else {
			ok = tx.Update(objectID, value)
		}
		if !ok {
			return nil, nil
		}
		batch := tx.Commit(time.Now(), guard.State.Definition.ForceUpdate, table.EncodeSingleVersionedValue)
		return func() error { return batch.Flush(ctx, d.backend, tableID) }, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return &dbderr.ObjectDoesNotExistError{TableID: string(tableID), ObjectID: string(objectID)}
	}
	return nil
}

func decodeSingleRecords(tableID types.TableID, records []docstore.Record) ([]identifiedValue, error) {
	out := make([]identifiedValue, 0, len(records))
	for _, rec := range records {
		var env singleEnvelope
		if err := json.Unmarshal(rec.Value, &env); err != nil {
			return nil, &dbderr.InconsistentDataError{TableID: string(tableID), DocID: string(rec.DocID)}
		}
		out = append(out, identifiedValue{ObjectID: env.ObjectID, Value: env.Value})
	}
	return out, nil
}
