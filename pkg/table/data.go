package table

import (
	"context"

	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// Data holds the versioning-specific in-memory state for one table,
// mirroring the original implementation's TableData enum: exactly one
// of the three variants is populated, selected by the table's
// VersioningType. Timestamped tables have no folded in-memory state at
// all - every read goes straight to the document store.
type Data struct {
	Single *SingleVersionedData
	Dual   *DualVersionedData
}

// LoadData builds the Data instance appropriate for versioning by
// querying backend for tableID's live records.
func LoadData(ctx context.Context, backend docstore.Backend, tableID types.TableID, versioning types.VersioningType) (*Data, error) {
	switch versioning {
	case types.SingleTimeline:
		single, err := LoadSingleVersionedData(ctx, backend, tableID)
		if err != nil {
			return nil, err
		}
		return &Data{Single: single}, nil
	case types.DualTimeline:
		dual, err := LoadDualVersionedData(ctx, backend, tableID)
		if err != nil {
			return nil, err
		}
		return &Data{Dual: dual}, nil
	default:
		return &Data{}, nil
	}
}

// SingleVersioned returns the single-timeline data, if this table is
// single-timeline.
func (d *Data) SingleVersioned() (*SingleVersionedData, bool) {
	if d == nil || d.Single == nil {
		return nil, false
	}
	return d.Single, true
}

// DualVersioned returns the dual-timeline data, if this table is
// dual-timeline.
func (d *Data) DualVersioned() (*DualVersionedData, bool) {
	if d == nil || d.Dual == nil {
		return nil, false
	}
	return d.Dual, true
}
