package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KV namespaces used by the core.
const (
	NSAuth = "auth"
	NSSync = "sync"
)

// KVGet returns the value for (namespace, key), or nil when absent.
func (s *Store) KVGet(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s/%s]: %w", namespace, key, err)
	}
	return value, nil
}

// KVSet upserts the value for (namespace, key).
func (s *Store) KVSet(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv[%s/%s]: %w", namespace, key, err)
	}
	return nil
}

// KVDel removes (namespace, key). Removing a missing key is not an error.
func (s *Store) KVDel(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete kv[%s/%s]: %w", namespace, key, err)
	}
	return nil
}
