// Package docstore defines the storage contract every backend must
// satisfy: schema-aware table lifecycle, externally-versioned writes,
// and point-in-time scrolling queries. pkg/table drives a Backend; it
// never depends on a concrete implementation.
package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temporaldb/dbdaemon/pkg/types"
)

// Update is one externally-versioned write: the write is accepted only
// if Version is strictly greater than the version currently stored for
// DocID (or the document does not exist yet); otherwise it is a
// version conflict, which a Backend treats as success (the newer
// writer already won).
type Update struct {
	DocID   types.DocID
	Version uint64
	Value   json.RawMessage
}

// Record is one document read back from a query.
type Record struct {
	DocID   types.DocID
	Version uint64
	Value   json.RawMessage
}

// ScrollState is an opaque cursor returned by QueryObjectsFirst and
// consumed by QueryObjectsNext; callers must not inspect it, only pass
// it back. A nil ScrollState means the scroll is exhausted.
type ScrollState any

// Backend is the storage contract a document store must satisfy.
// Every method is grounded on the trait in the original implementation's
// database/backend.rs: wait/verify on startup, schema manipulation per
// table, and externally-versioned reads/writes.
type Backend interface {
	// WaitForDatabase blocks until the backend is reachable, retrying
	// internally; it returns once ready or the context is canceled.
	WaitForDatabase(ctx context.Context) error

	// VerifyDatabase checks that the backend is in a usable state
	// (e.g. required buckets/indices exist).
	VerifyDatabase(ctx context.Context) error

	HasTable(ctx context.Context, id types.TableID) (bool, error)
	CreateTable(ctx context.Context, id types.TableID, def types.TableDefinition) error
	UpdateTable(ctx context.Context, id types.TableID, def types.TableDefinition) error
	ReindexTable(ctx context.Context, id types.TableID, oldDef, newDef types.TableDefinition) error
	RemoveTable(ctx context.Context, id types.TableID) error

	// UpdateObject performs one externally-versioned write.
	UpdateObject(ctx context.Context, tableID types.TableID, update Update) error

	// BulkUpdate performs many externally-versioned writes, chunked
	// internally; individual version conflicts are not reported as
	// errors.
	BulkUpdate(ctx context.Context, tableID types.TableID, updates []Update) error

	// QueryObjects runs a one-shot, non-scrolling query.
	QueryObjects(ctx context.Context, tableID types.TableID, filter Filter, sort []SortField, limit int) ([]Record, error)

	// QueryObjectsFirst opens a point-in-time scroll and returns its
	// first page. A nil returned ScrollState means the whole result
	// fit in one page.
	QueryObjectsFirst(ctx context.Context, tableID types.TableID, filter Filter, sort []SortField, keepAlive time.Duration, limit int) ([]Record, ScrollState, error)

	// QueryObjectsNext returns the next page of a scroll opened by
	// QueryObjectsFirst.
	QueryObjectsNext(ctx context.Context, state ScrollState) ([]Record, ScrollState, error)
}
