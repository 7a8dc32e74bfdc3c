package storage

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/masahif/oppcrawl/internal/crawler"
)

// Snapshot is the resumable progress of earlier runs for one source
type Snapshot struct {
	Seen      []string
	Delivered []string
	Pending   []crawler.Record // Extracted but never delivered
	LastPage  int
}

// Checkpoint implements crawler.Checkpointer for one source
type Checkpoint struct {
	store  *SQLiteStorage
	source string
}

// Checkpoint returns the checkpoint of source
func (s *SQLiteStorage) Checkpoint(source string) *Checkpoint {
	return &Checkpoint{store: s, source: source}
}

func (c *Checkpoint) lastPageKey() string {
	return "last_page:" + c.source
}

// SaveDelivered records ids the sink accepted
func (c *Checkpoint) SaveDelivered(ids []string) error {
	return c.store.insertIDs("delivered_ids", c.source, ids)
}

// SaveSeen records ids discovered on the listing
func (c *Checkpoint) SaveSeen(ids []string) error {
	return c.store.insertIDs("seen_ids", c.source, ids)
}

// SaveLastPage records the last listing page reached
func (c *Checkpoint) SaveLastPage(page int) error {
	return c.store.SetMeta(c.lastPageKey(), strconv.Itoa(page))
}

// SavePending replaces the pending records of the source
func (c *Checkpoint) SavePending(records []crawler.Record) error {
	tx, err := c.store.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM pending_records WHERE source = ?", c.source); err != nil {
		return fmt.Errorf("failed to clear pending records: %w", err)
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", rec.NaturalID, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO pending_records (source, natural_id, data) VALUES (?, ?, ?)",
			c.source, rec.NaturalID, string(data),
		); err != nil {
			return fmt.Errorf("failed to insert pending %s: %w", rec.NaturalID, err)
		}
	}
	return tx.Commit()
}

func (c *Checkpoint) loadPending() ([]crawler.Record, error) {
	rows, err := c.store.db.Query(
		"SELECT data FROM pending_records WHERE source = ? ORDER BY natural_id", c.source)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crawler.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		var rec crawler.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("corrupt pending record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Load reads the stored progress. An empty store yields an empty snapshot.
func (c *Checkpoint) Load() (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Seen, err = c.store.selectIDs("seen_ids", c.source); err != nil {
		return Snapshot{}, err
	}
	if snap.Delivered, err = c.store.selectIDs("delivered_ids", c.source); err != nil {
		return Snapshot{}, err
	}
	if snap.Pending, err = c.loadPending(); err != nil {
		return Snapshot{}, err
	}

	v, err := c.store.GetMeta(c.lastPageKey())
	if err != nil {
		return Snapshot{}, err
	}
	if v != "" {
		if snap.LastPage, err = strconv.Atoi(v); err != nil {
			return Snapshot{}, fmt.Errorf("corrupt last page %q: %w", v, err)
		}
	}
	return snap, nil
}

// Reset forgets all progress of the source
func (c *Checkpoint) Reset() error {
	tx, err := c.store.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		"DELETE FROM seen_ids WHERE source = ?",
		"DELETE FROM delivered_ids WHERE source = ?",
		"DELETE FROM pending_records WHERE source = ?",
	} {
		if _, err := tx.Exec(q, c.source); err != nil {
			return fmt.Errorf("failed to reset checkpoint: %w", err)
		}
	}
	if _, err := tx.Exec("DELETE FROM crawl_meta WHERE key = ?", c.lastPageKey()); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return tx.Commit()
}
