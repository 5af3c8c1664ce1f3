package daemon

import (
	"context"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

type registerTableParams struct {
	ID  types.TableID         `json:"id"`
	Def types.TableDefinition `json:"def"`
}

func (d *Daemon) registerSchemaHandlers() {
	d.server.Handle("register_table", handleNoResult(func(ctx context.Context, p registerTableParams) error {
		p.Def.ID = p.ID
		return d.registry.RegisterTable(ctx, p.Def, time.Now())
	}))

	d.server.Handle("unregister_table", handleNoResult(func(ctx context.Context, id types.TableID) error {
		return d.registry.UnregisterTable(ctx, id, time.Now())
	}))

	d.server.Handle("get_table_ids", handle(func(ctx context.Context, _ noParams) ([]types.TableID, error) {
		return d.registry.TableIDs(), nil
	}))

	d.server.Handle("get_table_definition", handle(func(ctx context.Context, id types.TableID) (types.TableDefinition, error) {
		guard, err := d.registry.ReadTable(id)
		if err != nil {
			return types.TableDefinition{}, err
		}
		defer guard.Release()
		return guard.State.Definition, nil
	}))

	d.server.Handle("get_table_definitions", handle(func(ctx context.Context, _ noParams) ([]types.TableDefinition, error) {
		ids := d.registry.TableIDs()
		defs := make([]types.TableDefinition, 0, len(ids))
		for _, id := range ids {
			guard, err := d.registry.ReadTable(id)
			if err != nil {
				continue
			}
			defs = append(defs, guard.State.Definition)
			guard.Release()
		}
		return defs, nil
	}))
}
