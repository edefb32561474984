package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists values in an embedded SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteStore runs the kv migration on db and returns a store scoped to namespace.
func NewSQLiteStore(ctx context.Context, db *sql.DB, namespace string) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, namespace: namespace}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", ErrStoreUnavailable, err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS wizard_kv (
  namespace TEXT NOT NULL,
  k TEXT NOT NULL,
  v TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (namespace, k)
);`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM wizard_kv WHERE namespace = ? AND k = ?`, s.namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrStoreUnavailable, key, err)
	}
	return v, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wizard_kv(namespace, k, v, updated_at) VALUES(?,?,?,?)
ON CONFLICT(namespace, k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		s.namespace, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: remove: %v", ErrStoreUnavailable, err)
	}
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM wizard_kv WHERE namespace = ? AND k = ?`, s.namespace, k); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: remove %s: %v", ErrStoreUnavailable, k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
