package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema contains the DDL for the crawler tables. Column names follow the
// feed collector that populates the database, so existing databases open
// unchanged.
const Schema = `
-- High-water mark of imported feed ids.
CREATE TABLE IF NOT EXISTS apwg_last_id (
    apwg_id INTEGER
);

-- Full history of every imported URL.
CREATE TABLE IF NOT EXISTS apwg_all_urls (
    apwg_id                  INTEGER PRIMARY KEY,
    url                      TEXT,
    brand                    TEXT,
    confidence               INTEGER,
    status                   TEXT,
    discoveredAt             INTEGER,
    createdAt                INTEGER,
    updatedAt                INTEGER,
    ip                       TEXT,
    asn                      TEXT,
    metadata                 TEXT,
    tld                      TEXT,
    trials                   INTEGER,
    updated_timestamp        TEXT,
    first_failure_timestamp  TEXT,
    second_failure_timestamp TEXT,
    third_failure_timestamp  TEXT
);

-- Work still to be checked.
CREATE TABLE IF NOT EXISTS apwg_urls_to_check (
    apwg_id                  INTEGER PRIMARY KEY,
    apwg_url                 TEXT,
    trials                   INTEGER,
    first_failure_timestamp  TEXT,
    second_failure_timestamp TEXT,
    third_failure_timestamp  TEXT,
    added_timestamp          DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_to_check_trials ON apwg_urls_to_check(trials);
`

// Migrate applies one-time column additions. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	has, err := hasColumn(ctx, db, "apwg_all_urls", "directory")
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	if has {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE apwg_all_urls ADD COLUMN directory TEXT`); err != nil {
		return fmt.Errorf("store: migrate: add directory: %w", err)
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
