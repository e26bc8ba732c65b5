// Package cache provides persistent caching for evaluated expression series.
// Series are stored as msgpack blobs with expiration timestamps for cache-first behavior.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/series"
)

// entry is the stored form of a series
type entry struct {
	Periods []int     `msgpack:"p"`
	Values  []float64 `msgpack:"v"`
}

// Key builds the cache key of one evaluation: expression text, instrument,
// query window and the exact as-of instant.
func Key(expression, instrument string, start, end int, asOf time.Time) string {
	cut := "latest"
	if !asOf.IsZero() {
		cut = asOf.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s|%s|%d|%d|%s", expression, instrument, start, end, cut)
}

// Repository provides cache operations for evaluated series.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Store saves a series with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Store(key, instrument string, s series.Series, ttl time.Duration) error {
	e := entry{Periods: make([]int, s.Len()), Values: s.Values()}
	for i := 0; i < s.Len(); i++ {
		e.Periods[i] = int(s.Period(i))
	}

	data, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to marshal series: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()

	_, err = r.db.Exec(
		"INSERT OR REPLACE INTO pit_cache (key, instrument, data, expires_at) VALUES (?, ?, ?, ?)",
		key, instrument, data, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	return nil
}

// GetIfFresh returns the series only if expires_at > now.
// The boolean is false if the key doesn't exist or the entry is expired.
func (r *Repository) GetIfFresh(key string) (series.Series, bool, error) {
	var data []byte
	err := r.db.QueryRow(
		"SELECT data FROM pit_cache WHERE key = ? AND expires_at > ?",
		key, time.Now().Unix(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return series.Empty(), false, nil
	}
	if err != nil {
		return series.Empty(), false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var e entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return series.Empty(), false, fmt.Errorf("failed to unmarshal series: %w", err)
	}

	periods := make([]period.Code, len(e.Periods))
	for i, p := range e.Periods {
		periods[i] = period.Code(p)
	}
	s, err := series.New(periods, e.Values)
	if err != nil {
		return series.Empty(), false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}

	return s, true, nil
}

// InvalidateInstrument removes every entry computed for an instrument.
// Returns the number of rows deleted.
func (r *Repository) InvalidateInstrument(instrument string) (int64, error) {
	result, err := r.db.Exec("DELETE FROM pit_cache WHERE instrument = ?", instrument)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache for %s: %w", instrument, err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes all rows where expires_at < now.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec("DELETE FROM pit_cache WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}
