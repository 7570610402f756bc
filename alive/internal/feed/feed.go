// Package feed imports phishing-feed JSON dumps into the work queue.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moa-lab/phishing-alive-measurement/alive/internal/store"
)

// DefaultExcludedBrands are imported into history but never queued.
var DefaultExcludedBrands = []string{"National Police Agency JAPAN"}

var required = []string{
	"id", "url", "brand", "confidence", "status", "discoveredAt",
	"createdAt", "updatedAt", "ip", "asn", "metadata", "tld",
}

// Report summarizes one import.
type Report struct {
	Files    int   `json:"files"`
	Rejected int   `json:"rejected_files"`
	Items    int   `json:"items"`
	Valid    int   `json:"valid"`
	Inserted int   `json:"inserted"`
	Queued   int   `json:"queued"`
	Skipped  int   `json:"skipped"`
	LastID   int64 `json:"last_id"`
}

// String renders the report as a one-line notification.
func (r Report) String() string {
	if r.Inserted == 0 {
		return fmt.Sprintf("Nothing to do (files: %d, items: %d, last id: %d)", r.Files, r.Items, r.LastID)
	}
	return fmt.Sprintf("Done. Num: %d queued: %d new last id: %d", r.Inserted, r.Queued, r.LastID)
}

// Importer loads feed files into a store.
type Importer struct {
	store    *store.Store
	excluded map[string]bool
	logger   *slog.Logger
}

// NewImporter creates an importer. A nil excluded list uses
// DefaultExcludedBrands; an empty one excludes nothing.
func NewImporter(s *store.Store, excluded []string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if excluded == nil {
		excluded = DefaultExcludedBrands
	}
	ex := make(map[string]bool, len(excluded))
	for _, b := range excluded {
		ex[b] = true
	}
	return &Importer{store: s, excluded: ex, logger: logger}
}

type item struct {
	ID           int64           `json:"id"`
	URL          string          `json:"url"`
	Brand        string          `json:"brand"`
	Confidence   int             `json:"confidence"`
	Status       string          `json:"status"`
	DiscoveredAt int64           `json:"discoveredAt"`
	CreatedAt    int64           `json:"createdAt"`
	UpdatedAt    int64           `json:"updatedAt"`
	IP           json.RawMessage `json:"ip"`
	ASN          json.RawMessage `json:"asn"`
	Metadata     json.RawMessage `json:"metadata"`
	TLD          string          `json:"tld"`
}

func (it item) listing() store.Listing {
	return store.Listing{
		ID:           it.ID,
		URL:          it.URL,
		Brand:        it.Brand,
		Confidence:   it.Confidence,
		Status:       it.Status,
		DiscoveredAt: it.DiscoveredAt,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
		IP:           compact(it.IP),
		ASN:          compact(it.ASN),
		Metadata:     compact(it.Metadata),
		TLD:          it.TLD,
	}
}

func compact(raw json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	return b.String()
}

// Import reads every *.json file under dir and applies the new items in one
// transaction. Files that cannot be read or parsed are logged and skipped.
func (im *Importer) Import(ctx context.Context, dir string) (Report, error) {
	var rep Report
	files, err := jsonFiles(dir)
	if err != nil {
		return rep, fmt.Errorf("feed: scan %s: %w", dir, err)
	}

	var items []item
	for _, path := range files {
		got, n, err := readFile(path)
		if err != nil {
			rep.Rejected++
			im.logger.Warn("feed: rejected file", "path", path, "error", err)
			continue
		}
		rep.Files++
		rep.Items += n
		if dropped := n - len(got); dropped > 0 {
			im.logger.Warn("feed: dropped invalid items", "path", path, "count", dropped)
		}
		items = append(items, got...)
	}
	rep.Valid = len(items)

	err = im.store.Tx(ctx, func(tx *store.Tx) error {
		mark, err := tx.LastID(ctx)
		if err != nil {
			return err
		}
		r := rep
		r.LastID = mark
		seen := make(map[int64]struct{}, len(items))
		for _, it := range items {
			// The first occurrence of an id wins; repeats in later files
			// count as skipped.
			if _, dup := seen[it.ID]; dup || it.ID <= mark {
				r.Skipped++
				continue
			}
			seen[it.ID] = struct{}{}
			if err := tx.UpsertListing(ctx, it.listing()); err != nil {
				return err
			}
			r.Inserted++
			if !im.excluded[it.Brand] {
				if err := tx.AddPending(ctx, it.ID, it.URL); err != nil {
					return err
				}
				r.Queued++
			}
			r.LastID = max(r.LastID, it.ID)
		}
		if r.LastID > mark {
			if err := tx.SetLastID(ctx, r.LastID); err != nil {
				return err
			}
		}
		rep = r
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("feed: import: %w", err)
	}
	im.logger.Info("feed: imported",
		"files", rep.Files, "rejected", rep.Rejected, "items", rep.Items,
		"inserted", rep.Inserted, "queued", rep.Queued, "skipped", rep.Skipped, "last_id", rep.LastID)
	return rep, nil
}

func jsonFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// readFile returns the valid items of one file and the total item count.
func readFile(path string) ([]item, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var doc struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("parse: %w", err)
	}
	if doc.Data == nil {
		return nil, 0, fmt.Errorf("parse: missing data array")
	}

	out := make([]item, 0, len(doc.Data))
	for _, fields := range doc.Data {
		it, ok := decodeItem(fields)
		if ok {
			out = append(out, it)
		}
	}
	return out, len(doc.Data), nil
}

func decodeItem(fields map[string]json.RawMessage) (item, bool) {
	for _, k := range required {
		if _, ok := fields[k]; !ok {
			return item{}, false
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return item{}, false
	}
	var it item
	if err := json.Unmarshal(raw, &it); err != nil || it.ID <= 0 || it.URL == "" {
		return item{}, false
	}
	return it, true
}
