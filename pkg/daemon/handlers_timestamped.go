package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// timestampedEnvelope is the flat wire shape one timestamped record is
// stored as. Timestamped tables have no folded in-memory Data
// (pkg/table/data.go), so both the write and the read side here talk to
// the backend directly instead of going through a table.*Transaction.
type timestampedEnvelope struct {
	ObjectID types.ObjectID  `json:"object_id"`
	Version  types.Anchor    `json:"version"`
	Value    json.RawMessage `json:"value"`
}

type bulkInsertTimestampedParams struct {
	Table  types.TableID     `json:"table"`
	Values []json.RawMessage `json:"values"`
}

func (d *Daemon) registerTimestampedHandlers() {
	d.server.Handle("bulk_insert_timestamped_objects", handle(func(ctx context.Context, p bulkInsertTimestampedParams) ([]types.ObjectID, error) {
		guard, err := d.registry.ReadTable(p.Table)
		if err != nil {
			return nil, err
		}
		versioning := guard.State.Definition.Versioning
		guard.Release()
		if versioning != types.Timestamped {
			return nil, &dbderr.WrongVersioningTypeError{TableID: string(p.Table), Got: string(versioning), Want: "timestamped"}
		}

		now := time.Now()
		ids := make([]types.ObjectID, 0, len(p.Values))
		updates := make([]docstore.Update, 0, len(p.Values))
		for _, value := range p.Values {
			objectID := types.NewObjectID()
			env := timestampedEnvelope{
				ObjectID: objectID,
				Version:  types.Anchor{Created: now, From: now},
				Value:    value,
			}
			raw, err := json.Marshal(env)
			if err != nil {
				return nil, err
			}
			ids = append(ids, objectID)
			updates = append(updates, docstore.Update{DocID: types.NewDocID(), Version: 0, Value: raw})
		}

		if err := d.backend.BulkUpdate(ctx, p.Table, updates); err != nil {
			return nil, err
		}
		return ids, nil
	}))
}
