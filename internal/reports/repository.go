package reports

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pitmetrics/internal/database"
	"github.com/aristath/pitmetrics/internal/expr"
	"github.com/aristath/pitmetrics/internal/period"
	"github.com/aristath/pitmetrics/internal/series"
)

// Repository handles point-in-time report storage
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new report repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "reports").Logger(),
	}
}

// Upsert stores reports in one transaction. A report for an existing
// (instrument, field, period) replaces the stored value.
// A zero PublishedAt is stored as the current time.
func (r *Repository) Upsert(ctx context.Context, reports []Report) (int, error) {
	for _, rep := range reports {
		if err := rep.Validate(); err != nil {
			return 0, err
		}
	}
	if len(reports) == 0 {
		return 0, nil
	}

	now := time.Now()
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pit_reports (instrument, field, period, value, published_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(instrument, field, period) DO UPDATE SET
				value = excluded.value,
				published_at = excluded.published_at,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, rep := range reports {
			published := rep.PublishedAt
			if published.IsZero() {
				published = now
			}
			var value interface{}
			if rep.Value != nil && !math.IsNaN(*rep.Value) {
				value = *rep.Value
			}
			if _, err := stmt.ExecContext(ctx,
				rep.Instrument, rep.Field, int(rep.Period), value, published.Unix(), now.Unix(),
			); err != nil {
				return fmt.Errorf("failed to store %s/%s %s: %w", rep.Instrument, rep.Field, rep.Period, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug().Int("count", len(reports)).Msg("Stored reports")
	return len(reports), nil
}

// Load returns the series of a line item as known on asOf: only reports published
// on or before asOf are visible (a zero asOf sees everything). At most limit of the
// latest periods are returned, in ascending order; limit <= 0 returns all of them.
// Unreported values are NaN.
func (r *Repository) Load(ctx context.Context, instrument, field string, asOf time.Time, limit int) (series.Series, error) {
	query := "SELECT period, value FROM pit_reports WHERE instrument = ? AND field = ?"
	args := []interface{}{instrument, field}
	if !asOf.IsZero() {
		query += " AND published_at <= ?"
		args = append(args, asOf.Unix())
	}
	query += " ORDER BY period DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return series.Empty(), fmt.Errorf("failed to query %s/%s: %w", instrument, field, err)
	}
	defer rows.Close()

	var (
		periods []period.Code
		values  []float64
	)
	for rows.Next() {
		var (
			p int
			v sql.NullFloat64
		)
		if err := rows.Scan(&p, &v); err != nil {
			return series.Empty(), fmt.Errorf("failed to scan %s/%s: %w", instrument, field, err)
		}
		periods = append(periods, period.Code(p))
		if v.Valid {
			values = append(values, v.Float64)
		} else {
			values = append(values, math.NaN())
		}
	}
	if err := rows.Err(); err != nil {
		return series.Empty(), fmt.Errorf("error iterating %s/%s: %w", instrument, field, err)
	}

	slices.Reverse(periods)
	slices.Reverse(values)
	return series.New(periods, values)
}

// List returns every report of an instrument visible on asOf, ordered by field and period
func (r *Repository) List(ctx context.Context, instrument string, asOf time.Time) ([]Report, error) {
	query := "SELECT field, period, value, published_at FROM pit_reports WHERE instrument = ?"
	args := []interface{}{instrument}
	if !asOf.IsZero() {
		query += " AND published_at <= ?"
		args = append(args, asOf.Unix())
	}
	query += " ORDER BY field, period"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports for %s: %w", instrument, err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			rep       Report
			p         int
			v         sql.NullFloat64
			published int64
		)
		if err := rows.Scan(&rep.Field, &p, &v, &published); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		rep.Instrument = instrument
		rep.Period = period.Code(p)
		rep.PublishedAt = time.Unix(published, 0).UTC()
		if v.Valid {
			value := v.Float64
			rep.Value = &value
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Instruments returns every instrument with at least one report
func (r *Repository) Instruments(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, "SELECT DISTINCT instrument FROM pit_reports ORDER BY instrument")
}

// Fields returns the line items stored for an instrument
func (r *Repository) Fields(ctx context.Context, instrument string) ([]string, error) {
	return r.queryStrings(ctx, "SELECT DISTINCT field FROM pit_reports WHERE instrument = ? ORDER BY field", instrument)
}

func (r *Repository) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AsOf returns a Source that sees the store as it was known on t
func (r *Repository) AsOf(t time.Time) expr.Source {
	return &asOfSource{repo: r, asOf: t}
}

type asOfSource struct {
	repo *Repository
	asOf time.Time
}

func (s *asOfSource) Series(ctx context.Context, instrument, field string) (series.Series, error) {
	return s.repo.Load(ctx, instrument, field, s.asOf, 0)
}
