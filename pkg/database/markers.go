package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
)

// Executor is satisfied by both *sql.DB and *sql.Tx, so one insert path
// serves transactional runs and engines that write directly.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nullableFloat64 stores NULL when a sensor never reported the value.
func nullableFloat64(valid bool, value float64) any {
	if !valid {
		return nil
	}
	return value
}

// insertReturningID runs an INSERT and returns the key the engine assigned.
//
//   - pgx, duckdb: RETURNING id
//   - sqlite, chai: LastInsertId
//   - genji, clickhouse: the caller already placed an explicit id in args
func (db *Database) insertReturningID(ctx context.Context, exec Executor, query string, explicitID int64, args ...any) (int64, error) {
	switch db.Driver {
	case "pgx", "duckdb":
		var id int64
		if err := exec.QueryRowContext(ctx, rebind(db.Driver, query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil

	case "genji", "clickhouse":
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return 0, err
		}
		return explicitID, nil

	default:
		res, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
}

// InsertMarker stores m and returns the id the storage assigned. Unlike the
// map server's upload path there is no ON CONFLICT clause: a duplicate reading
// is reported to the caller, see IsDuplicate.
func (db *Database) InsertMarker(ctx context.Context, exec Executor, m Marker) (int64, error) {
	cols := "doseRate,date,lon,lat,countRate,zoom,speed,trackID,altitude,detector,radiation,temperature,humidity,has_spectrum"
	args := []any{
		m.DoseRate, m.Date, m.Lon, m.Lat,
		m.CountRate, m.Zoom, m.Speed, m.TrackID,
		nullableFloat64(m.AltitudeValid, m.Altitude),
		m.Detector, m.Radiation,
		nullableFloat64(m.TemperatureValid, m.Temperature),
		nullableFloat64(m.HumidityValid, m.Humidity),
		m.HasSpectrum,
	}
	placeholders := "?,?,?,?,?,?,?,?,?,?,?,?,?,?"

	var explicitID int64
	if db.ids != nil {
		explicitID = db.ids.Next()
		cols = "id," + cols
		placeholders = "?," + placeholders
		args = append([]any{explicitID}, args...)
	}

	query := fmt.Sprintf("INSERT INTO markers (%s) VALUES (%s)", cols, placeholders)
	id, err := db.insertReturningID(ctx, exec, query, explicitID, args...)
	if err != nil {
		return 0, fmt.Errorf("insert marker zoom=%d: %w", m.Zoom, err)
	}
	return id, nil
}

// GetMarkersByTrackID returns every marker of trackID ordered by zoom, then id.
func (db *Database) GetMarkersByTrackID(ctx context.Context, trackID string) ([]Marker, error) {
	// Genji orders by a single path only; ties are broken in Go below.
	orderBy := "zoom, id"
	if db.Driver == "genji" {
		orderBy = "zoom"
	}
	query := rebind(db.Driver, "SELECT "+markerColumns+`
FROM markers
WHERE trackID = ?
ORDER BY `+orderBy)

	rows, err := db.DB.QueryContext(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("query markers by trackID: %w", err)
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	slices.SortStableFunc(markers, func(a, b Marker) int {
		if c := cmp.Compare(a.Zoom, b.Zoom); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return markers, nil
}

// markerColumns is the column order scanMarker expects. Nullable columns are
// selected as-is because Genji has no COALESCE.
const markerColumns = `id, doseRate, date, lon, lat, countRate, zoom, speed, trackID,
       altitude, detector, radiation, temperature, humidity, has_spectrum`

// scanMarker reads one row selected with markerColumns.
func scanMarker(rows *sql.Rows) (Marker, error) {
	var (
		m           Marker
		altitude    sql.NullFloat64
		detector    sql.NullString
		radiation   sql.NullString
		temperature sql.NullFloat64
		humidity    sql.NullFloat64
		hasSpectrum sql.NullBool
	)
	if err := rows.Scan(
		&m.ID, &m.DoseRate, &m.Date, &m.Lon, &m.Lat,
		&m.CountRate, &m.Zoom, &m.Speed, &m.TrackID,
		&altitude, &detector, &radiation, &temperature, &humidity,
		&hasSpectrum,
	); err != nil {
		return Marker{}, fmt.Errorf("scan marker: %w", err)
	}
	m.Altitude, m.AltitudeValid = altitude.Float64, altitude.Valid
	m.Temperature, m.TemperatureValid = temperature.Float64, temperature.Valid
	m.Humidity, m.HumidityValid = humidity.Float64, humidity.Valid
	m.Detector = detector.String
	m.Radiation = radiation.String
	m.HasSpectrum = hasSpectrum.Bool
	return m, nil
}
