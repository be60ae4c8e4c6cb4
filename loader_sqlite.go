package enviz

import (
	"context"
	"database/sql"
	"fmt"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// sqliteSchema is the table layout SQLiteSource reads. Exporters create it
// through EnsureSQLiteSchema.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS samples (
	realization TEXT NOT NULL,
	entity      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	property    TEXT NOT NULL,
	time        REAL NOT NULL,
	value       REAL
);
CREATE INDEX IF NOT EXISTS idx_samples_series
	ON samples(realization, entity, property, time);
CREATE TABLE IF NOT EXISTS observed (
	group_id TEXT NOT NULL,
	property TEXT NOT NULL,
	time     REAL NOT NULL,
	value    REAL
);
`

// EnsureSQLiteSchema creates the ensemble tables if they do not exist.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, sqliteSchema)
	return err
}

// SQLiteSource reads an ensemble from a SQLite database file, so ensembles
// exported by other tools can be inspected with standard SQLite tooling.
type SQLiteSource struct {
	// Path is the database file; ":memory:" works for tests.
	Path string
}

// Read implements Source.
func (s *SQLiteSource) Read(ctx context.Context) ([]RawSeries, []RawObserved, error) {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite source: %w", err)
	}
	defer db.Close()

	series, err := readSQLiteSamples(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	observed, err := readSQLiteObserved(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return series, observed, nil
}

func readSQLiteSamples(ctx context.Context, db *sql.DB) ([]RawSeries, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT realization, entity, entity_type, property, time, value
		FROM samples
		ORDER BY realization, entity, property, time`)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var series []RawSeries
	index := make(map[string]int)
	for rows.Next() {
		var (
			realization, entity, typeCode, property string
			t                                       float64
			value                                   sql.NullFloat64
		)
		if err := rows.Scan(&realization, &entity, &typeCode, &property, &t, &value); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		if !value.Valid {
			continue // NULL value means no sample at this time
		}

		key := realization + "\x00" + entity + "\x00" + property
		i, ok := index[key]
		if !ok {
			typ, err := ParseEntityType(typeCode)
			if err != nil {
				return nil, fmt.Errorf("entity %q: %w", entity, err)
			}
			series = append(series, RawSeries{
				Realization: realization,
				Entity:      entity,
				Type:        typ,
				Property:    property,
			})
			i = len(series) - 1
			index[key] = i
		}
		series[i].Samples = append(series[i].Samples, Sample{Time: t, Value: value.Float64})
	}
	return series, rows.Err()
}

func readSQLiteObserved(ctx context.Context, db *sql.DB) ([]RawObserved, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT group_id, property, time, value
		FROM observed
		ORDER BY group_id, property, time`)
	if err != nil {
		return nil, fmt.Errorf("querying observed data: %w", err)
	}
	defer rows.Close()

	var out []RawObserved
	index := make(map[string]int)
	for rows.Next() {
		var (
			group, property string
			t               float64
			value           sql.NullFloat64
		)
		if err := rows.Scan(&group, &property, &t, &value); err != nil {
			return nil, fmt.Errorf("scanning observed row: %w", err)
		}
		if !value.Valid {
			continue
		}

		key := group + "\x00" + property
		i, ok := index[key]
		if !ok {
			out = append(out, RawObserved{Group: group, Property: property})
			i = len(out) - 1
			index[key] = i
		}
		out[i].Samples = append(out[i].Samples, Sample{Time: t, Value: value.Float64})
	}
	return out, rows.Err()
}
