package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Listing is one feed entry as stored in the history table. IP, ASN and
// Metadata hold JSON text.
type Listing struct {
	ID           int64
	URL          string
	Brand        string
	Confidence   int
	Status       string
	DiscoveredAt int64
	CreatedAt    int64
	UpdatedAt    int64
	IP           string
	ASN          string
	Metadata     string
	TLD          string
}

// UpsertListing inserts l into the history table or refreshes its feed
// columns. Trial columns of an existing row are left alone.
func (t *Tx) UpsertListing(ctx context.Context, l Listing) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO apwg_all_urls
			(apwg_id, url, brand, confidence, status, discoveredAt, createdAt, updatedAt,
			 ip, asn, metadata, tld, trials)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,0)
		ON CONFLICT(apwg_id) DO UPDATE SET
			url = excluded.url,
			brand = excluded.brand,
			confidence = excluded.confidence,
			status = excluded.status,
			discoveredAt = excluded.discoveredAt,
			createdAt = excluded.createdAt,
			updatedAt = excluded.updatedAt,
			ip = excluded.ip,
			asn = excluded.asn,
			metadata = excluded.metadata,
			tld = excluded.tld`,
		l.ID, l.URL, l.Brand, l.Confidence, l.Status, l.DiscoveredAt, l.CreatedAt, l.UpdatedAt,
		l.IP, l.ASN, l.Metadata, l.TLD,
	)
	if err != nil {
		return fmt.Errorf("store: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

// AddPending queues id for checking with zero trials. An id already pending
// keeps its trial count.
func (t *Tx) AddPending(ctx context.Context, id int64, url string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO apwg_urls_to_check (apwg_id, apwg_url, trials) VALUES (?, ?, 0)
		ON CONFLICT(apwg_id) DO NOTHING`, id, url)
	if err != nil {
		return fmt.Errorf("store: add pending %d: %w", id, err)
	}
	return nil
}

// LastID returns the feed high-water mark, 0 when none is stored.
func (t *Tx) LastID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := t.tx.QueryRowContext(ctx, `SELECT MAX(apwg_id) FROM apwg_last_id`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: last id: %w", err)
	}
	return id.Int64, nil
}

// SetLastID replaces the feed high-water mark.
func (t *Tx) SetLastID(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM apwg_last_id`); err != nil {
		return fmt.Errorf("store: set last id: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO apwg_last_id (apwg_id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("store: set last id: %w", err)
	}
	return nil
}
