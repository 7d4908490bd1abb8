// Package store is the local object store: a schema-light persistent layer
// holding every entity type in one physical table of opaque blobs, a
// secondary index table for non-primary-key lookups, and a key-value table
// for small unstructured settings.
//
// The store is intentionally type-erased; adding a new entity type needs no
// migration. The cost is that integrity constraints beyond the primary key
// are the callers' problem, not the store's.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/notesafe/notesafe/internal/dbx"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound signals a missing object or KV entry.
	ErrNotFound = errors.New("not found")
	// ErrStoreIntegrity signals an index row pointing at a missing object
	// row. Writes are transactional, so hitting this means the database was
	// modified outside the store.
	ErrStoreIntegrity = errors.New("store integrity violation")
)

// IndexEntry is one secondary-index value for an object. An object may carry
// several entries under the same index name (multi-value index).
type IndexEntry struct {
	Name string
	Key  string
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at dsn and applies
// embedded migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an existing database handle. The caller is responsible for the
// schema; used by tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts an object and rewrites all of its index rows in a single
// transaction, so a crash can never leave an index entry pointing at a
// missing row or a row without its index entries.
func (s *Store) Put(ctx context.Context, tableID, objectID string, data []byte, indexes []IndexEntry) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO objects (table_id, object_id, data) VALUES (?, ?, ?)
			ON CONFLICT(table_id, object_id) DO UPDATE SET data = excluded.data
		`, tableID, objectID, data)
		if err != nil {
			return fmt.Errorf("failed to upsert object: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM object_index WHERE table_id = ? AND object_id = ?`,
			tableID, objectID)
		if err != nil {
			return fmt.Errorf("failed to clear index rows: %w", err)
		}

		for _, idx := range indexes {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO object_index (table_id, index_name, index_key, object_id)
				VALUES (?, ?, ?, ?)
			`, tableID, idx.Name, idx.Key, objectID)
			if err != nil {
				return fmt.Errorf("failed to insert index row: %w", err)
			}
		}
		return nil
	})
}

// Get returns an object's blob, or ErrNotFound.
func (s *Store) Get(ctx context.Context, tableID, objectID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE table_id = ? AND object_id = ?`,
		tableID, objectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tableID, objectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return data, nil
}

// Delete removes an object and its index rows atomically. Deleting a missing
// object is not an error.
func (s *Store) Delete(ctx context.Context, tableID, objectID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM objects WHERE table_id = ? AND object_id = ?`,
			tableID, objectID)
		if err != nil {
			return fmt.Errorf("failed to delete object: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM object_index WHERE table_id = ? AND object_id = ?`,
			tableID, objectID)
		if err != nil {
			return fmt.Errorf("failed to delete index rows: %w", err)
		}
		return nil
	})
}

// FindByIndex returns the ids of all objects whose index entry under the
// given name matches key, in insertion order.
func (s *Store) FindByIndex(ctx context.Context, tableID, indexName, indexKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id FROM object_index
		WHERE table_id = ? AND index_name = ? AND index_key = ?
		ORDER BY rowid
	`, tableID, indexName, indexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetByIndex resolves an index hit to its object blob, reporting
// ErrStoreIntegrity when the index points at a missing row.
func (s *Store) GetByIndex(ctx context.Context, tableID, indexName, indexKey string) (map[string][]byte, error) {
	ids, err := s.FindByIndex(ctx, tableID, indexName, indexKey)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]byte, len(ids))
	for _, id := range ids {
		data, err := s.Get(ctx, tableID, id)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: index %s/%s points at missing object %s",
				ErrStoreIntegrity, tableID, indexName, id)
		}
		if err != nil {
			return nil, err
		}
		result[id] = data
	}
	return result, nil
}

// List returns every object blob in a logical table, keyed by object id.
func (s *Store) List(ctx context.Context, tableID string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_id, data FROM objects WHERE table_id = ?`, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		result[id] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
