// CLAUDE:SUMMARY SQLite persistence for pending work, trial history and the feed high-water mark.
// Package store is the durable queue behind the crawler: pending work items,
// the full per-URL history with trial timestamps, and the feed import mark.
package store

import (
	"context"
	"database/sql"

	"github.com/moa-lab/phishing-alive-measurement/dbopen"
)

// Store is the crawler database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path, applies pragmas, the schema
// and pending migrations.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// New wraps an already open database. The schema must be applied.
func New(db *sql.DB) *Store { return &Store{DB: db} }

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Tx runs fn inside a transaction, retrying on SQLITE_BUSY.
func (s *Store) Tx(ctx context.Context, fn func(*Tx) error) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// Tx is a store transaction.
type Tx struct {
	tx *sql.Tx
}
