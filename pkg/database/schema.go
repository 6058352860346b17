package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// InitSchema creates the markers and spectra tables when they are missing.
// Existing map databases are upgraded in place: the has_spectrum column and
// the spectra table are added without touching stored rows.
func (db *Database) InitSchema(ctx context.Context) error {
	var statements []string

	switch db.Driver {
	case "pgx":
		statements = []string{`
CREATE TABLE IF NOT EXISTS markers (
  id           BIGSERIAL PRIMARY KEY,
  doseRate     DOUBLE PRECISION,
  date         BIGINT,
  lon          DOUBLE PRECISION,
  lat          DOUBLE PRECISION,
  countRate    DOUBLE PRECISION,
  zoom         INTEGER,
  speed        DOUBLE PRECISION,
  trackID      TEXT,
  altitude     DOUBLE PRECISION,
  detector     TEXT,
  radiation    TEXT,
  temperature  DOUBLE PRECISION,
  humidity     DOUBLE PRECISION,
  has_spectrum BOOLEAN NOT NULL DEFAULT FALSE,
  CONSTRAINT markers_unique UNIQUE (doseRate,date,lon,lat,countRate,zoom,speed,trackID)
)`, `
CREATE TABLE IF NOT EXISTS spectra (
  id             BIGSERIAL PRIMARY KEY,
  marker_id      BIGINT NOT NULL REFERENCES markers(id),
  channels       TEXT NOT NULL,
  channel_count  INTEGER NOT NULL,
  energy_min_kev DOUBLE PRECISION,
  energy_max_kev DOUBLE PRECISION,
  live_time_sec  DOUBLE PRECISION,
  real_time_sec  DOUBLE PRECISION,
  device_model   TEXT,
  calibration    TEXT,
  source_format  TEXT,
  raw_data       BYTEA,
  created_at     BIGINT
)`}

	case "sqlite", "chai":
		statements = []string{`
CREATE TABLE IF NOT EXISTS markers (
  id           INTEGER PRIMARY KEY,
  doseRate     REAL,
  date         BIGINT,
  lon          REAL,
  lat          REAL,
  countRate    REAL,
  zoom         INTEGER,
  speed        REAL,
  trackID      TEXT,
  altitude     REAL,
  detector     TEXT,
  radiation    TEXT,
  temperature  REAL,
  humidity     REAL,
  has_spectrum INTEGER NOT NULL DEFAULT 0
)`, `
CREATE UNIQUE INDEX IF NOT EXISTS idx_markers_unique
  ON markers (doseRate,date,lon,lat,countRate,zoom,speed,trackID)`, `
CREATE TABLE IF NOT EXISTS spectra (
  id             INTEGER PRIMARY KEY,
  marker_id      INTEGER NOT NULL REFERENCES markers(id),
  channels       TEXT NOT NULL,
  channel_count  INTEGER NOT NULL,
  energy_min_kev REAL,
  energy_max_kev REAL,
  live_time_sec  REAL,
  real_time_sec  REAL,
  device_model   TEXT,
  calibration    TEXT,
  source_format  TEXT,
  raw_data       BLOB,
  created_at     BIGINT
)`}

	case "genji":
		// Genji has no auto-increment; ids come from the generator.
		statements = []string{`
CREATE TABLE IF NOT EXISTS markers (
  id           INTEGER PRIMARY KEY,
  doseRate     DOUBLE,
  date         INTEGER,
  lon          DOUBLE,
  lat          DOUBLE,
  countRate    DOUBLE,
  zoom         INTEGER,
  speed        DOUBLE,
  trackID      TEXT,
  altitude     DOUBLE,
  detector     TEXT,
  radiation    TEXT,
  temperature  DOUBLE,
  humidity     DOUBLE,
  has_spectrum BOOL
)`, `
CREATE TABLE IF NOT EXISTS spectra (
  id             INTEGER PRIMARY KEY,
  marker_id      INTEGER NOT NULL,
  channels       TEXT NOT NULL,
  channel_count  INTEGER NOT NULL,
  energy_min_kev DOUBLE,
  energy_max_kev DOUBLE,
  live_time_sec  DOUBLE,
  real_time_sec  DOUBLE,
  device_model   TEXT,
  calibration    TEXT,
  source_format  TEXT,
  raw_data       BLOB,
  created_at     INTEGER
)`}

	case "duckdb":
		// No SERIAL in DuckDB: sequences + DEFAULT nextval(...). The spectra
		// table skips the foreign key because DuckDB rejects updates of a
		// referenced parent row, and InsertSpectrum updates has_spectrum.
		statements = []string{
			`CREATE SEQUENCE IF NOT EXISTS markers_id_seq START 1`, `
CREATE TABLE IF NOT EXISTS markers (
  id           BIGINT PRIMARY KEY DEFAULT nextval('markers_id_seq'),
  doseRate     DOUBLE,
  date         BIGINT,
  lon          DOUBLE,
  lat          DOUBLE,
  countRate    DOUBLE,
  zoom         INTEGER,
  speed        DOUBLE,
  trackID      TEXT,
  altitude     DOUBLE,
  detector     TEXT,
  radiation    TEXT,
  temperature  DOUBLE,
  humidity     DOUBLE,
  has_spectrum BOOLEAN DEFAULT FALSE,
  CONSTRAINT markers_unique UNIQUE (doseRate,date,lon,lat,countRate,zoom,speed,trackID)
)`,
			`CREATE SEQUENCE IF NOT EXISTS spectra_id_seq START 1`, `
CREATE TABLE IF NOT EXISTS spectra (
  id             BIGINT PRIMARY KEY DEFAULT nextval('spectra_id_seq'),
  marker_id      BIGINT NOT NULL,
  channels       TEXT NOT NULL,
  channel_count  INTEGER NOT NULL,
  energy_min_kev DOUBLE,
  energy_max_kev DOUBLE,
  live_time_sec  DOUBLE,
  real_time_sec  DOUBLE,
  device_model   TEXT,
  calibration    TEXT,
  source_format  TEXT,
  raw_data       BLOB,
  created_at     BIGINT
)`}

	case "clickhouse":
		statements = []string{`
CREATE TABLE IF NOT EXISTS markers (
  id           UInt64,
  doseRate     Float64,
  date         Int64,
  lon          Float64,
  lat          Float64,
  countRate    Float64,
  zoom         Int32,
  speed        Float64,
  trackID      String,
  altitude     Nullable(Float64),
  detector     String,
  radiation    String,
  temperature  Nullable(Float64),
  humidity     Nullable(Float64),
  has_spectrum Bool DEFAULT false
) ENGINE = MergeTree()
ORDER BY (trackID, date, id)`, `
CREATE TABLE IF NOT EXISTS spectra (
  id             UInt64,
  marker_id      UInt64,
  channels       String,
  channel_count  Int32,
  energy_min_kev Float64,
  energy_max_kev Float64,
  live_time_sec  Float64,
  real_time_sec  Float64,
  device_model   String,
  calibration    String,
  source_format  String,
  raw_data       String,
  created_at     Int64
) ENGINE = MergeTree()
ORDER BY (marker_id, id)`}

	default:
		return fmt.Errorf("unsupported database type: %s", db.Driver)
	}

	if err := execStatements(ctx, db.DB, statements); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	// Databases created by older map builds lack the spectrum flag.
	if err := db.ensureMarkerSpectrumColumn(ctx); err != nil {
		return fmt.Errorf("add marker has_spectrum column: %w", err)
	}

	return db.EnsureIndexes(ctx, log.Printf)
}

// execStatements executes DDL one statement at a time so engines that do not
// accept multi-statement Exec calls (ClickHouse, Genji) still boot.
func execStatements(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, raw := range stmts {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ensureMarkerSpectrumColumn adds markers.has_spectrum when an existing table
// predates it.
func (db *Database) ensureMarkerSpectrumColumn(ctx context.Context) error {
	switch db.Driver {
	case "pgx":
		_, err := db.DB.ExecContext(ctx,
			`ALTER TABLE markers ADD COLUMN IF NOT EXISTS has_spectrum BOOLEAN NOT NULL DEFAULT FALSE`)
		return err

	case "duckdb":
		_, err := db.DB.ExecContext(ctx,
			`ALTER TABLE markers ADD COLUMN IF NOT EXISTS has_spectrum BOOLEAN DEFAULT FALSE`)
		return err

	case "clickhouse":
		_, err := db.DB.ExecContext(ctx,
			`ALTER TABLE markers ADD COLUMN IF NOT EXISTS has_spectrum Bool DEFAULT false`)
		return err

	case "genji":
		// Genji tables are schemaless beyond the declared columns; nothing to migrate.
		return nil

	default:
		present, err := db.sqliteColumns(ctx, "markers")
		if err != nil {
			return err
		}
		if present["has_spectrum"] {
			return nil
		}
		_, err = db.DB.ExecContext(ctx,
			`ALTER TABLE markers ADD COLUMN has_spectrum INTEGER NOT NULL DEFAULT 0`)
		return err
	}
}

// sqliteColumns returns the column names of table via PRAGMA table_info.
func (db *Database) sqliteColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := db.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan %s pragma: %w", table, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s pragma: %w", table, err)
	}
	return present, nil
}

// desiredIndexes declares the indexes the spectrum read path relies on.
// Only portable CREATE INDEX IF NOT EXISTS on plain columns.
func desiredIndexes(driver string) []struct{ name, sql string } {
	switch driver {
	case "clickhouse", "genji":
		// MergeTree ordering already covers marker_id; Genji lookups stay small.
		return nil
	default:
		return []struct{ name, sql string }{
			{"idx_spectra_marker_id",
				`CREATE INDEX IF NOT EXISTS idx_spectra_marker_id ON spectra (marker_id)`},
			{"idx_markers_has_spectrum_bounds",
				`CREATE INDEX IF NOT EXISTS idx_markers_has_spectrum_bounds ON markers (has_spectrum, lat, lon)`},
			{"idx_markers_trackid",
				`CREATE INDEX IF NOT EXISTS idx_markers_trackid ON markers (trackID)`},
		}
	}
}

// EnsureIndexes builds the spectrum indexes synchronously. The map server may
// hold the same SQLite file, so "database is locked" is retried with a
// backoff capped at one second. Other failures are logged and skipped.
func (db *Database) EnsureIndexes(ctx context.Context, logf func(string, ...any)) error {
	for _, it := range desiredIndexes(db.Driver) {
		start := time.Now()
		backoff := 50 * time.Millisecond
		for {
			_, err := db.DB.ExecContext(ctx, it.sql)
			if err == nil {
				logf("index %s ready in %s", it.name, time.Since(start).Truncate(time.Millisecond))
				break
			}
			if isAlreadyExists(err) {
				logf("index %s appears to exist. continue.", it.name)
				break
			}
			if !isBusy(err) {
				logf("index %s failed after %s: %v", it.name, time.Since(start).Truncate(time.Millisecond), err)
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < time.Second {
				backoff *= 2
				if backoff > time.Second {
					backoff = time.Second
				}
			}
		}
	}
	return nil
}
