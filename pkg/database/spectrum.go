package database

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// InsertSpectrum stores s linked to its marker and raises the marker's
// has_spectrum flag through the same executor, so both writes commit or roll
// back together. Channels and calibration are stored as JSON text.
func (db *Database) InsertSpectrum(ctx context.Context, exec Executor, s Spectrum) (int64, error) {
	channelsJSON, err := json.Marshal(s.Channels)
	if err != nil {
		return 0, fmt.Errorf("marshal channels: %w", err)
	}

	var calibrationJSON []byte
	if s.Calibration != nil {
		calibrationJSON, err = json.Marshal(s.Calibration)
		if err != nil {
			return 0, fmt.Errorf("marshal calibration: %w", err)
		}
	}

	if s.ChannelCount == 0 {
		s.ChannelCount = len(s.Channels)
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}

	cols := "marker_id,channels,channel_count,energy_min_kev,energy_max_kev," +
		"live_time_sec,real_time_sec,device_model,calibration,source_format,raw_data,created_at"
	placeholders := "?,?,?,?,?,?,?,?,?,?,?,?"
	var rawData any = s.RawData
	if db.Driver == "clickhouse" {
		// raw_data is a String column there.
		rawData = string(s.RawData)
	}
	args := []any{
		s.MarkerID, string(channelsJSON), s.ChannelCount,
		s.EnergyMinKeV, s.EnergyMaxKeV, s.LiveTimeSec,
		s.RealTimeSec, s.DeviceModel, string(calibrationJSON),
		s.SourceFormat, rawData, s.CreatedAt,
	}

	var explicitID int64
	if db.ids != nil {
		explicitID = db.ids.Next()
		cols = "id," + cols
		placeholders = "?," + placeholders
		args = append([]any{explicitID}, args...)
	}

	query := fmt.Sprintf("INSERT INTO spectra (%s) VALUES (%s)", cols, placeholders)
	id, err := db.insertReturningID(ctx, exec, query, explicitID, args...)
	if err != nil {
		return 0, fmt.Errorf("insert spectrum for marker %d: %w", s.MarkerID, err)
	}

	if err := db.UpdateMarkerSpectrumFlag(ctx, exec, s.MarkerID, true); err != nil {
		return 0, err
	}
	return id, nil
}

// GetSpectrum returns the spectrum attached to markerID, or nil when the
// marker has none.
func (db *Database) GetSpectrum(ctx context.Context, markerID int64) (*Spectrum, error) {
	query := rebind(db.Driver, `
SELECT id, marker_id, channels, channel_count, energy_min_kev, energy_max_kev,
       live_time_sec, real_time_sec, device_model, calibration,
       source_format, raw_data, created_at
FROM spectra
WHERE marker_id = ?
LIMIT 1`)

	var (
		s               Spectrum
		channelsJSON    string
		calibrationJSON sql.NullString
		deviceModel     sql.NullString
		sourceFormat    sql.NullString
		rawData         []byte
		createdAt       sql.NullInt64
	)
	err := db.DB.QueryRowContext(ctx, query, markerID).Scan(
		&s.ID, &s.MarkerID, &channelsJSON, &s.ChannelCount,
		&s.EnergyMinKeV, &s.EnergyMaxKeV, &s.LiveTimeSec,
		&s.RealTimeSec, &deviceModel, &calibrationJSON,
		&sourceFormat, &rawData, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query spectrum: %w", err)
	}

	if err := json.Unmarshal([]byte(channelsJSON), &s.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if calibrationJSON.Valid && calibrationJSON.String != "" {
		var cal EnergyCalibration
		if err := json.Unmarshal([]byte(calibrationJSON.String), &cal); err != nil {
			return nil, fmt.Errorf("unmarshal calibration: %w", err)
		}
		s.Calibration = &cal
	}
	s.DeviceModel = deviceModel.String
	s.SourceFormat = sourceFormat.String
	s.RawData = rawData
	if createdAt.Valid {
		s.CreatedAt = createdAt.Int64
	}
	return &s, nil
}

// GetMarkersWithSpectra returns up to 1000 flagged markers inside bounds,
// newest first.
func (db *Database) GetMarkersWithSpectra(ctx context.Context, bounds Bounds) ([]Marker, error) {
	orderBy := "date DESC, id"
	if db.Driver == "genji" {
		orderBy = "date DESC"
	}
	query := rebind(db.Driver, "SELECT "+markerColumns+`
FROM markers
WHERE has_spectrum = ?
  AND lat BETWEEN ? AND ?
  AND lon BETWEEN ? AND ?
ORDER BY `+orderBy+`
LIMIT 1000`)

	rows, err := db.DB.QueryContext(ctx, query, true, bounds.MinLat, bounds.MaxLat, bounds.MinLon, bounds.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("query markers with spectra: %w", err)
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
		return nil, fmt.Errorf("iterate markers with spectra: %w", err)
	}
	slices.SortStableFunc(markers, func(a, b Marker) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return markers, nil
}

// DeleteSpectrum removes the spectrum of markerID and clears its flag.
func (db *Database) DeleteSpectrum(ctx context.Context, exec Executor, markerID int64) error {
	query := "DELETE FROM spectra WHERE marker_id = ?"
	if db.Driver == "clickhouse" {
		query = "ALTER TABLE spectra DELETE WHERE marker_id = ?"
	}
	if _, err := exec.ExecContext(ctx, rebind(db.Driver, query), markerID); err != nil {
		return fmt.Errorf("delete spectrum: %w", err)
	}
	return db.UpdateMarkerSpectrumFlag(ctx, exec, markerID, false)
}

// UpdateMarkerSpectrumFlag sets markers.has_spectrum for one marker.
func (db *Database) UpdateMarkerSpectrumFlag(ctx context.Context, exec Executor, markerID int64, hasSpectrum bool) error {
	query := "UPDATE markers SET has_spectrum = ? WHERE id = ?"
	if db.Driver == "clickhouse" {
		// MergeTree rows change through mutations only.
		query = "ALTER TABLE markers UPDATE has_spectrum = ? WHERE id = ?"
	}
	if _, err := exec.ExecContext(ctx, rebind(db.Driver, query), hasSpectrum, markerID); err != nil {
		return fmt.Errorf("update marker spectrum flag: %w", err)
	}
	return nil
}
