// Package boltstore implements pkg/docstore.Backend on top of bbolt,
// generalizing the bucket-per-collection, JSON-marshaled-value pattern
// from the teacher's pkg/storage.BoltStore to arbitrary table
// collections with externally-versioned writes and scrolling queries.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	bolt "go.etcd.io/bbolt"

	"github.com/temporaldb/dbdaemon/pkg/dbderr"
	"github.com/temporaldb/dbdaemon/pkg/docstore"
	"github.com/temporaldb/dbdaemon/pkg/types"
)

const tableBucketPrefix = "tbl-"

// Store is a bbolt-backed docstore.Backend. One bucket holds one
// table's documents, keyed by doc id; values are the externally
// versioned envelope {version, value}.
type Store struct {
	db      *bolt.DB
	scrolls *ttlcache.Cache[string, *scrollEntry]
}

type record struct {
	Version uint64          `json:"version"`
	Value   json.RawMessage `json:"value"`
}

type scrollEntry struct {
	records  []docstore.Record
	offset   int
	pageSize int
}

// Open opens (creating if necessary) the bbolt file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "dbdaemon.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	scrolls := ttlcache.New[string, *scrollEntry](
		ttlcache.WithTTL[string, *scrollEntry](time.Minute),
	)
	go scrolls.Start()

	return &Store{db: db, scrolls: scrolls}, nil
}

// Close releases the database file and stops the scroll registry.
func (s *Store) Close() error {
	s.scrolls.Stop()
	return s.db.Close()
}

func bucketName(id types.TableID) []byte {
	return []byte(tableBucketPrefix + string(id))
}

func (s *Store) WaitForDatabase(ctx context.Context) error {
	return nil
}

func (s *Store) VerifyDatabase(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *Store) HasTable(ctx context.Context, id types.TableID) (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketName(id)) != nil
		return nil
	})
	return exists, err
}

func (s *Store) CreateTable(ctx context.Context, id types.TableID, def types.TableDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket(bucketName(id))
		if err != nil {
			return &dbderr.BackendError{Op: "create_table", Err: fmt.Errorf("table %s: %w", id, err)}
		}
		return nil
	})
}

func (s *Store) UpdateTable(ctx context.Context, id types.TableID, def types.TableDefinition) error {
	ok, err := s.HasTable(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &dbderr.TableNotFoundError{TableID: string(id)}
	}
	return nil
}

// ReindexTable is a no-op: documents are stored as raw JSON, so a
// schema change that only adds optional fields or relaxes constraints
// needs no data rewrite. The registry is responsible for serializing
// reindex against concurrent writers.
func (s *Store) ReindexTable(ctx context.Context, id types.TableID, oldDef, newDef types.TableDefinition) error {
	return s.UpdateTable(ctx, id, newDef)
}

func (s *Store) RemoveTable(ctx context.Context, id types.TableID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketName(id)) == nil {
			return &dbderr.TableNotFoundError{TableID: string(id)}
		}
		return tx.DeleteBucket(bucketName(id))
	})
}

func (s *Store) UpdateObject(ctx context.Context, tableID types.TableID, update docstore.Update) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(tableID))
		if b == nil {
			return &dbderr.TableNotFoundError{TableID: string(tableID)}
		}
		return applyUpdate(b, update)
	})
}

func (s *Store) BulkUpdate(ctx context.Context, tableID types.TableID, updates []docstore.Update) error {
	const chunkSize = 1000
	for start := 0; start < len(updates); start += chunkSize {
		end := min(start+chunkSize, len(updates))
		chunk := updates[start:end]
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketName(tableID))
			if b == nil {
				return &dbderr.TableNotFoundError{TableID: string(tableID)}
			}
			for _, u := range chunk {
				if err := applyUpdate(b, u); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// applyUpdate writes update into bucket b only if its version is
// strictly greater than the stored version, mirroring the "external"
// version type used by the original implementation's elastic backend: a
// stale write loses silently rather than erroring.
func applyUpdate(b *bolt.Bucket, update docstore.Update) error {
	existing := b.Get([]byte(update.DocID))
	if existing != nil {
		var prev record
		if err := json.Unmarshal(existing, &prev); err != nil {
			return fmt.Errorf("decode existing document %s: %w", update.DocID, err)
		}
		if update.Version <= prev.Version {
			return nil
		}
	}
	rec := record{Version: update.Version, Value: update.Value}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", update.DocID, err)
	}
	return b.Put([]byte(update.DocID), data)
}

func (s *Store) QueryObjects(ctx context.Context, tableID types.TableID, filter docstore.Filter, sortFields []docstore.SortField, limit int) ([]docstore.Record, error) {
	records, err := s.scan(tableID, filter, sortFields)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) QueryObjectsFirst(ctx context.Context, tableID types.TableID, filter docstore.Filter, sortFields []docstore.SortField, keepAlive time.Duration, limit int) ([]docstore.Record, docstore.ScrollState, error) {
	records, err := s.scan(tableID, filter, sortFields)
	if err != nil {
		return nil, nil, err
	}
	pageSize := limit
	if pageSize <= 0 {
		pageSize = 1000
	}
	page, rest := splitPage(records, pageSize)
	if len(rest) == 0 {
		return page, nil, nil
	}

	id := uuid.NewString()
	s.scrolls.Set(id, &scrollEntry{records: rest, offset: 0, pageSize: pageSize}, keepAlive)
	return page, id, nil
}

func (s *Store) QueryObjectsNext(ctx context.Context, state docstore.ScrollState) ([]docstore.Record, docstore.ScrollState, error) {
	id, ok := state.(string)
	if !ok {
		return nil, nil, fmt.Errorf("invalid scroll state: %v", state)
	}
	item := s.scrolls.Get(id)
	if item == nil {
		return nil, nil, dbderr.ErrTimeout
	}
	entry := item.Value()
	remaining := entry.records[entry.offset:]
	page, rest := splitPage(remaining, entry.pageSize)

	if len(rest) == 0 {
		s.scrolls.Delete(id)
		return page, nil, nil
	}

	entry.offset = len(entry.records) - len(rest)
	ttl := item.TTL()
	s.scrolls.Set(id, entry, ttl)
	return page, id, nil
}

func splitPage(records []docstore.Record, pageSize int) (page, rest []docstore.Record) {
	if len(records) <= pageSize {
		return records, nil
	}
	return records[:pageSize], records[pageSize:]
}

func (s *Store) scan(tableID types.TableID, filter docstore.Filter, sortFields []docstore.SortField) ([]docstore.Record, error) {
	var out []docstore.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(tableID))
		if b == nil {
			return &dbderr.TableNotFoundError{TableID: string(tableID)}
		}
		return b.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			if !filter.Matches(rec.Value) {
				return nil
			}
			out = append(out, docstore.Record{
				DocID:   types.DocID(k),
				Version: rec.Version,
				Value:   append(json.RawMessage(nil), rec.Value...),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		for _, f := range sortFields {
			if f.Less(out[i].Value, out[j].Value) {
				return true
			}
			if f.Less(out[j].Value, out[i].Value) {
				return false
			}
		}
		return false
	})
	return out, nil
}
