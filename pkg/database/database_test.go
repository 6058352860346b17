package database

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/genjidb/genji/driver"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	goleak.VerifyTestMain(m)
}

// openTestDB returns a schema-initialised SQLite file inside t.TempDir.
func openTestDB(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()
	db, err := NewDatabase(ctx, Config{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "database-test.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(ctx))
	return db
}

func TestNewDatabaseRejectsUnknownDriver(t *testing.T) {
	_, err := NewDatabase(context.Background(), Config{DBType: "oracle"})
	require.ErrorContains(t, err, "unsupported database type")
}

func TestDefaultPath(t *testing.T) {
	require.Equal(t, "database-8765.sqlite", DefaultPath(Config{DBType: " SQLite ", Port: 8765}))
	require.Equal(t, "/tmp/x.db", DefaultPath(Config{DBType: "sqlite", DBPath: "/tmp/x.db"}))
}

func TestClickHouseDSNFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "raw dsn wins", cfg: Config{DBConn: " clickhouse://h:1/db "}, want: "clickhouse://h:1/db"},
		{name: "defaults", cfg: Config{}, want: "clickhouse://127.0.0.1:9000"},
		{name: "credentials and tls", cfg: Config{DBHost: "ch", DBPort: 9440, DBUser: "u", DBPass: "p", DBName: "maps", ClickSecure: true},
			want: "clickhouse://u:p@ch:9440/maps?secure=true"},
		{name: "ipv6", cfg: Config{DBHost: "::1", DBPort: 9000, DBUser: "u"}, want: "clickhouse://u@[::1]:9000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClickHouseDSNFromConfig(tc.cfg))
		})
	}
}

func TestPostgresDSNFromConfig(t *testing.T) {
	got := PostgresDSNFromConfig(Config{DBHost: "db", DBPort: 5432, DBUser: "postgres", DBPass: "s3cr3t", DBName: "IsotopePathways", PGSSLMode: "prefer"})
	require.Equal(t, "postgres://postgres:s3cr3t@db:5432/IsotopePathways?sslmode=prefer", got)
	require.Equal(t, "postgres://x", PostgresDSNFromConfig(Config{DBConn: "postgres://x"}))
}

func TestRebind(t *testing.T) {
	q := "UPDATE markers SET has_spectrum = ? WHERE id = ?"
	require.Equal(t, q, rebind("sqlite", q))
	require.Equal(t, "UPDATE markers SET has_spectrum = $1 WHERE id = $2", rebind("pgx", q))
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InitSchema(context.Background()))

	cols, err := db.sqliteColumns(context.Background(), "spectra")
	require.NoError(t, err)
	for _, c := range []string{"marker_id", "channels", "channel_count", "energy_min_kev", "energy_max_kev",
		"live_time_sec", "real_time_sec", "device_model", "calibration", "source_format", "raw_data", "created_at"} {
		require.True(t, cols[c], "spectra.%s missing", c)
	}
}

// TestInitSchemaUpgradesLegacyMarkers simulates a map database created before
// spectra existed: has_spectrum must be added without losing rows.
func TestInitSchemaUpgradesLegacyMarkers(t *testing.T) {
	ctx := context.Background()
	db, err := NewDatabase(ctx, Config{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "legacy.sqlite")})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.DB.ExecContext(ctx, `CREATE TABLE markers (
  id INTEGER PRIMARY KEY, doseRate REAL, date BIGINT, lon REAL, lat REAL, countRate REAL,
  zoom INTEGER, speed REAL, trackID TEXT, altitude REAL, detector TEXT, radiation TEXT,
  temperature REAL, humidity REAL)`)
	require.NoError(t, err)
	_, err = db.DB.ExecContext(ctx, `INSERT INTO markers (doseRate,date,lon,lat,countRate,zoom,speed,trackID)
VALUES (0.1, 1700000000, 42.9, 44.0, 5, 3, 0, 'OLD')`)
	require.NoError(t, err)

	require.NoError(t, db.InitSchema(ctx))

	markers, err := db.GetMarkersByTrackID(ctx, "OLD")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	require.False(t, markers[0].HasSpectrum)
}

func TestInsertMarkerAndSpectrumRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	markerID, err := db.InsertMarker(ctx, db.DB, Marker{
		DoseRate: 0.0385, CountRate: 38.5, Date: 1700000000,
		Lat: 34.4883891, Lon: 136.1659156, Zoom: 0,
		TrackID: "RT", Detector: "Test Spectrum Generator",
	})
	require.NoError(t, err)
	require.Positive(t, markerID)

	channels := []int{5, 6, 1500, 3}
	spectrumID, err := db.InsertSpectrum(ctx, db.DB, Spectrum{
		MarkerID:     markerID,
		Channels:     channels,
		EnergyMaxKeV: 3000,
		LiveTimeSec:  300,
		RealTimeSec:  305,
		DeviceModel:  "Test Spectrum Generator",
		Calibration:  &EnergyCalibration{B: 3000.0 / 1024.0},
		SourceFormat: "test",
		RawData:      []byte("Test spectrum data"),
		CreatedAt:    1700000000,
	})
	require.NoError(t, err)
	require.Positive(t, spectrumID)

	got, err := db.GetSpectrum(ctx, markerID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, spectrumID, got.ID)
	require.Equal(t, channels, got.Channels)
	require.Equal(t, len(channels), got.ChannelCount)
	require.Equal(t, &EnergyCalibration{B: 3000.0 / 1024.0}, got.Calibration)
	require.Equal(t, []byte("Test spectrum data"), got.RawData)
	require.Equal(t, int64(1700000000), got.CreatedAt)

	// The flag is raised by InsertSpectrum even though the marker was stored without it.
	markers, err := db.GetMarkersByTrackID(ctx, "RT")
	require.NoError(t, err)
	require.Len(t, markers, 1)
	require.True(t, markers[0].HasSpectrum)

	var stored string
	require.NoError(t, db.DB.QueryRowContext(ctx, `SELECT calibration FROM spectra WHERE id = ?`, spectrumID).Scan(&stored))
	require.JSONEq(t, `{"a":0,"b":2.9296875,"c":0}`, stored)
}

func TestGetSpectrumMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetSpectrum(context.Background(), 424242)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSpectrumRequiresExistingMarker(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertSpectrum(context.Background(), db.DB, Spectrum{MarkerID: 999, Channels: []int{1}})
	require.Error(t, err)
}

func TestGetMarkersWithSpectraAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inside, err := db.InsertMarker(ctx, db.DB, Marker{Date: 10, Lat: 34.5, Lon: 136.2, TrackID: "B", DoseRate: 1})
	require.NoError(t, err)
	outside, err := db.InsertMarker(ctx, db.DB, Marker{Date: 11, Lat: 10, Lon: 10, TrackID: "B", DoseRate: 2})
	require.NoError(t, err)
	for _, id := range []int64{inside, outside} {
		_, err := db.InsertSpectrum(ctx, db.DB, Spectrum{MarkerID: id, Channels: []int{1, 2, 3}, CreatedAt: 1})
		require.NoError(t, err)
	}

	box := Bounds{MinLat: 34, MaxLat: 35, MinLon: 136, MaxLon: 137}
	found, err := db.GetMarkersWithSpectra(ctx, box)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, inside, found[0].ID)

	require.NoError(t, db.DeleteSpectrum(ctx, db.DB, inside))
	found, err = db.GetMarkersWithSpectra(ctx, box)
	require.NoError(t, err)
	require.Empty(t, found)

	got, err := db.GetSpectrum(ctx, inside)
	require.NoError(t, err)
	require.Nil(t, got)
}

// TestMarkerReadsPerEmbeddedDriver runs the read helpers on every embedded
// engine that builds without cgo. Genji has no COALESCE and orders by a single
// path, so it exercises the NULL-safe scan and the in-Go tie break.
func TestMarkerReadsPerEmbeddedDriver(t *testing.T) {
	for _, driver := range []string{"sqlite", "genji"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			db, err := NewDatabase(ctx, Config{
				DBType: driver,
				DBPath: filepath.Join(t.TempDir(), "database-test."+driver),
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			require.NoError(t, db.InitSchema(ctx))

			var ids []int64
			for _, zoom := range []int{2, 0, 1} {
				id, err := db.InsertMarker(ctx, db.DB, Marker{
					DoseRate: 0.0385, CountRate: 38.5, Date: 1700000000,
					Lat: 34.4883891, Lon: 136.1659156, Zoom: zoom, TrackID: "EMB",
					Altitude: 120, AltitudeValid: true,
				})
				require.NoError(t, err)
				ids = append(ids, id)
			}
			_, err = db.InsertSpectrum(ctx, db.DB, Spectrum{MarkerID: ids[1], Channels: []int{1, 2, 3}, CreatedAt: 1})
			require.NoError(t, err)

			markers, err := db.GetMarkersByTrackID(ctx, "EMB")
			require.NoError(t, err)
			require.Len(t, markers, 3)
			for zoom, m := range markers {
				require.Equal(t, zoom, m.Zoom)
				require.True(t, m.AltitudeValid)
				require.Equal(t, 120.0, m.Altitude)
				require.False(t, m.TemperatureValid)
				require.False(t, m.HumidityValid)
				require.Empty(t, m.Detector)
			}
			require.Equal(t, ids[1], markers[0].ID)

			box := Bounds{MinLat: 34, MaxLat: 35, MinLon: 136, MaxLon: 137}
			found, err := db.GetMarkersWithSpectra(ctx, box)
			require.NoError(t, err)
			require.Len(t, found, 1)
			require.Equal(t, ids[1], found[0].ID)
			require.True(t, found[0].HasSpectrum)

			require.NoError(t, db.DeleteSpectrum(ctx, db.DB, ids[1]))
			found, err = db.GetMarkersWithSpectra(ctx, box)
			require.NoError(t, err)
			require.Empty(t, found)
		})
	}
}

func TestInsertMarkerDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := Marker{Date: 5, Lat: 1, Lon: 2, Zoom: 3, TrackID: "DUP", DoseRate: 0.1, CountRate: 100}

	_, err := db.InsertMarker(ctx, db.DB, m)
	require.NoError(t, err)
	_, err = db.InsertMarker(ctx, db.DB, m)
	require.Error(t, err)
	require.True(t, IsDuplicate(err), "got %v", err)
}

func TestIsDuplicate(t *testing.T) {
	require.False(t, IsDuplicate(nil))
	require.False(t, IsDuplicate(errors.New("disk I/O error")))
	require.True(t, IsDuplicate(errors.New("constraint failed: UNIQUE constraint failed: markers.doseRate (2067)")))
	require.True(t, IsDuplicate(errors.New(`Constraint Error: Duplicate key "id: 4" violates primary key constraint`)))
}

func TestIDGeneratorIsMonotonic(t *testing.T) {
	g := startIDGenerator(7)
	defer g.Stop()
	require.Equal(t, int64(7), g.Next())
	require.Equal(t, int64(8), g.Next())
	require.Equal(t, int64(9), g.Next())
	g.Stop() // second Stop is a no-op
}

func TestRunPragmaPipelineStopsOnError(t *testing.T) {
	calls := 0
	err := runPragmaPipeline(context.Background(), 5, func(i int) error {
		calls++
		if i == 1 {
			return os.ErrPermission
		}
		return nil
	})
	require.ErrorIs(t, err, os.ErrPermission)
	require.Equal(t, 2, calls)
}
