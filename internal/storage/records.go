package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/oppcrawl/internal/crawler"
)

// UpsertStats counts the effect of one upsert call
type UpsertStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// StoredRecord is a record as kept by the sink
type StoredRecord struct {
	crawler.Record
	TenantID    string    `json:"tenantId"`
	Source      string    `json:"source"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpsertRecords stores records keyed by (tenant, natural id). Fields already
// stored are only replaced by non-empty values, so redelivering a degraded
// record never erases data. A record whose merged content is unchanged counts
// as neither added nor updated.
func (s *SQLiteStorage) UpsertRecords(ctx context.Context, tenantID, source string, records []crawler.Record) (UpsertStats, error) {
	var stats UpsertStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, rec := range records {
		if rec.NaturalID == "" {
			return UpsertStats{}, errors.New("record without natural id")
		}

		var data string
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM records WHERE tenant_id = ? AND natural_id = ?",
			tenantID, rec.NaturalID,
		).Scan(&data)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			payload, err := json.Marshal(rec)
			if err != nil {
				return UpsertStats{}, fmt.Errorf("failed to encode %s: %w", rec.NaturalID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO records (tenant_id, natural_id, source, title, closing_date, data, first_seen_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, tenantID, rec.NaturalID, source, rec.Title, rec.ClosingDate, string(payload), now, now); err != nil {
				return UpsertStats{}, fmt.Errorf("failed to insert %s: %w", rec.NaturalID, err)
			}
			stats.Added++

		case err != nil:
			return UpsertStats{}, fmt.Errorf("failed to read %s: %w", rec.NaturalID, err)

		default:
			var existing crawler.Record
			if err := json.Unmarshal([]byte(data), &existing); err != nil {
				return UpsertStats{}, fmt.Errorf("corrupt record %s: %w", rec.NaturalID, err)
			}
			merged := rec
			merged.FillMissing(existing)
			payload, err := json.Marshal(merged)
			if err != nil {
				return UpsertStats{}, fmt.Errorf("failed to encode %s: %w", rec.NaturalID, err)
			}
			if string(payload) == data {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE records SET source = ?, title = ?, closing_date = ?, data = ?, updated_at = ?
				WHERE tenant_id = ? AND natural_id = ?
			`, source, merged.Title, merged.ClosingDate, string(payload), now, tenantID, rec.NaturalID); err != nil {
				return UpsertStats{}, fmt.Errorf("failed to update %s: %w", rec.NaturalID, err)
			}
			stats.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertStats{}, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return stats, nil
}

// ListRecords returns the records of a tenant, most recently updated first
func (s *SQLiteStorage) ListRecords(ctx context.Context, tenantID string) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, data, first_seen_at, updated_at
		FROM records
		WHERE tenant_id = ?
		ORDER BY updated_at DESC, natural_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StoredRecord
	for rows.Next() {
		var sr StoredRecord
		var data string
		if err := rows.Scan(&sr.Source, &data, &sr.FirstSeenAt, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &sr.Record); err != nil {
			return nil, fmt.Errorf("corrupt record: %w", err)
		}
		sr.TenantID = tenantID
		out = append(out, sr)
	}
	return out, rows.Err()
}

// CountRecords returns the number of records stored for a tenant
func (s *SQLiteStorage) CountRecords(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE tenant_id = ?", tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
