package table

import (
	"context"
	"sync"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/log"
	"github.com/temporaldb/dbdaemon/pkg/schema"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

// NonOperationalMarker names the transitional state a table slot is in
// while it cannot serve reads or writes, grounded on
// TableNonOperationalState in the original implementation.
type NonOperationalMarker int

const (
	MarkerRegistering NonOperationalMarker = iota
	MarkerUpdating
	MarkerReloading
	MarkerReindexing
	MarkerUnregistering
)

func (m NonOperationalMarker) String() string {
	switch m {
	case MarkerRegistering:
		return "registering"
	case MarkerUpdating:
		return "updating"
	case MarkerReloading:
		return "reloading"
	case MarkerReindexing:
		return "reindexing"
	case MarkerUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// OperationalState is the usable state of one registered table: its
// definition and compiled value schema, plus its versioning-specific
// data instance. Mirrors TableOperationalState.
type OperationalState struct {
	Definition  types.TableDefinition
	ValueSchema *schema.ValueSchema
	Data        *Data

	// DataLock serializes transaction-commit sequences against this
	// table's Data (the resulting batch is flushed after DataLock is
	// released), separately from the slot's own RWMutex (which a guard
	// holds from acquisition until Release). Concurrent readers of Data still proceed under the
	// slot's RLock alone; only callers that mutate Data via a committed
	// transaction take DataLock.
	DataLock sync.Mutex
}

// LoadOperationalState builds an OperationalState for def by loading
// its live records from backend.
func LoadOperationalState(ctx context.Context, backend docstore.Backend, def types.TableDefinition) (*OperationalState, error) {
	valueSchema, err := schema.Parse(def.ValueSchema)
	if err != nil {
		return nil, err
	}
	data, err := LoadData(ctx, backend, def.ID, def.Versioning)
	if err != nil {
		return nil, err
	}
	return &OperationalState{Definition: def, ValueSchema: valueSchema, Data: data}, nil
}

// slot is one table's two-level lock: the registry's outer RWMutex
// guards only map membership (lookup/insert), while each slot's own
// RWMutex guards that table's state against concurrent schema changes
// for as long as an individual call holds it. The original
// implementation's per-table tokio::sync::RwLock<TableState> plays the
// same role; Go has no Drop, so callers release explicitly via the
// guard types below instead of RAII.
type slot struct {
	mu          sync.RWMutex
	operational *OperationalState // nil while nonOperational
	marker      NonOperationalMarker
	nonOperational bool
}

// Registry is the mapping from table id to table slot, the gateway for
// every read/write acquisition. Mirrors State.
type Registry struct {
	mu     sync.RWMutex
	slots  map[types.TableID]*slot
	backend docstore.Backend
}

// NewRegistry returns an empty registry bound to backend.
func NewRegistry(backend docstore.Backend) *Registry {
	return &Registry{slots: make(map[types.TableID]*slot), backend: backend}
}

// SchemaTableID is the reserved table id storing every registered
// table's own definition, grounded on SCHEMA_TABLE in the original
// implementation.
const SchemaTableID types.TableID = "schemas"

// Load bootstraps the registry: waits for the backend, ensures the
// reserved self-schemas table exists, loads it first, extracts every
// other table's definition from it, then loads each of those tables in
// turn. Mirrors State::load.
func Load(ctx context.Context, backend docstore.Backend) (*Registry, error) {
	if err := backend.WaitForDatabase(ctx); err != nil {
		return nil, err
	}

	r := NewRegistry(backend)

	schemaDef := SelfSchemasTableDefinition()
	hasSchemas, err := backend.HasTable(ctx, SchemaTableID)
	if err != nil {
		return nil, err
	}
	if !hasSchemas {
		if err := backend.CreateTable(ctx, SchemaTableID, schemaDef); err != nil {
			return nil, err
		}
	}

	log.Info("loading schemas...")
	schemaState, err := LoadOperationalState(ctx, backend, schemaDef)
	if err != nil {
		return nil, err
	}
	defs, err := ExtractTableDefinitions(schemaState)
	if err != nil {
		return nil, err
	}
	r.slots[SchemaTableID] = &slot{operational: schemaState}

	for _, def := range defs {
		log.WithTable(string(def.ID)).Info().Msg("loading table")
		state, err := LoadOperationalState(ctx, backend, def)
		if err != nil {
			return nil, err
		}
		r.slots[def.ID] = &slot{operational: state}
	}

	return r, nil
}

// TableIDs lists every currently registered table id, including the
// reserved self-schemas table.
func (r *Registry) TableIDs() []types.TableID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.TableID, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	return ids
}

// ReadGuard borrows a table's operational state for the duration of one
// read-only call. Release must be called exactly once.
type ReadGuard struct {
	TableID types.TableID
	State   *OperationalState
	slot    *slot
}

// Release unlocks the slot for readers. Safe to call via defer
// immediately after a successful ReadTable.
func (g *ReadGuard) Release() {
	g.slot.mu.RUnlock()
}

// ReadTable acquires tableID's slot for reading, failing with
// TableNotFoundError if the table was never registered or
// TableNotReadyError if it is mid-transition.
func (r *Registry) ReadTable(tableID types.TableID) (*ReadGuard, error) {
	r.mu.RLock()
	s, ok := r.slots[tableID]
	r.mu.RUnlock()
	if !ok {
		return nil, &dbderr.TableNotFoundError{TableID: string(tableID)}
	}

	s.mu.RLock()
	if s.nonOperational {
		marker := s.marker
		s.mu.RUnlock()
		return nil, &dbderr.TableNotReadyError{TableID: string(tableID), Marker: marker.String()}
	}
	return &ReadGuard{TableID: tableID, State: s.operational, slot: s}, nil
}

// WriteGuard borrows exclusive access to a table slot for a schema
// change, having already swapped the slot into a non-operational
// marker state. The caller must call Release with either the new
// operational state (the table survives, e.g. after a reload/update)
// or nil (the table is being unregistered and removed from the
// registry entirely).
type WriteGuard struct {
	TableID types.TableID
	// Prior is the operational state the slot held before this guard
	// took it, or nil if the slot was freshly created by this call
	// (create=true, table previously unregistered).
	Prior   *OperationalState
	slot    *slot
	registry *Registry
	released bool
}

// Release finalizes the write: if newState is non-nil the slot becomes
// operational with that state; if nil the slot is deleted from the
// registry, whether or not this guard created it.
func (g *WriteGuard) Release(newState *OperationalState) {
	if g.released {
		return
	}
	g.released = true
	if newState != nil {
		g.slot.operational = newState
		g.slot.nonOperational = false
		g.slot.mu.Unlock()
		return
	}
	g.slot.mu.Unlock()
	g.registry.mu.Lock()
	delete(g.registry.slots, g.TableID)
	g.registry.mu.Unlock()
}

// WriteTable acquires tableID's slot exclusively and swaps it into
// marker, returning the prior operational state for the caller to
// mutate (or derive a replacement from). If the table does not exist
// and create is true, a new slot is inserted already holding marker
// with no prior state. Mirrors State::write_table + TableState::take.
func (r *Registry) WriteTable(tableID types.TableID, marker NonOperationalMarker, create bool) (*WriteGuard, error) {
	r.mu.Lock()
	s, ok := r.slots[tableID]
	if !ok {
		if !create {
			r.mu.Unlock()
			return nil, &dbderr.TableNotFoundError{TableID: string(tableID)}
		}
		s = &slot{nonOperational: true, marker: marker}
		s.mu.Lock()
		r.slots[tableID] = s
		r.mu.Unlock()
		return &WriteGuard{TableID: tableID, Prior: nil, slot: s, registry: r}, nil
	}
	r.mu.Unlock()

	s.mu.Lock()
	if s.nonOperational {
		m := s.marker
		s.mu.Unlock()
		return nil, &dbderr.TableNotReadyError{TableID: string(tableID), Marker: m.String()}
	}
	prior := s.operational
	s.operational = nil
	s.nonOperational = true
	s.marker = marker
	return &WriteGuard{TableID: tableID, Prior: prior, slot: s, registry: r}, nil
}
