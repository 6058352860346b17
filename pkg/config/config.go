// Package config parses the seeder's command line. Every flag falls back to
// a CHICHA_* environment variable (optionally loaded from .env), then to the
// map server's own defaults, so the seeder finds the same database file the
// server opened.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"chicha-spectrum-seed/pkg/database"
)

// Config is the fully resolved seeder configuration.
type Config struct {
	DB database.Config

	Lat          float64
	Lon          float64
	TrackID      string
	Detector     string
	SpectrumZoom int
	FlagAllZooms bool

	MapHost string
	MapZoom int

	QROut      string
	MetricsOut string
	InitSchema bool
}

// Reference coordinates: Mitsue onsen, Nara, Japan.
const (
	DefaultLat     = 34.4883891
	DefaultLon     = 136.1659156
	DefaultTrackID = "TEST_MITSUE_ONSEN"
	DefaultDevice  = "Test Spectrum Generator"
	DefaultPort    = 8765
	MaxZoom        = 20
)

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// Parse resolves args (without the program name) against getenv. Pass
// os.Getenv in production; tests pass a map lookup.
func Parse(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	env := newEnvSource(getenv)
	fs := flag.NewFlagSet("insert-test-spectrum", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	cfg := &Config{}
	fs.StringVar(&cfg.DB.DBType, "db-type", env.getString("CHICHA_DB_TYPE", "sqlite"), "Database driver: sqlite | chai | genji | duckdb | pgx | clickhouse")
	fs.StringVar(&cfg.DB.DBPath, "db-path", env.getString("CHICHA_DB_PATH", ""), "Database file path (defaults to database-<port>.<db-type>, as the map server does)")
	fs.StringVar(&cfg.DB.DBConn, "db-conn", env.getString("CHICHA_DB_CONN", ""), "Raw DSN for pgx or clickhouse; overrides host/port/user settings")
	fs.StringVar(&cfg.DB.DBHost, "db-host", env.getString("CHICHA_DB_HOST", "127.0.0.1"), "DB host (pgx or clickhouse)")
	fs.IntVar(&cfg.DB.DBPort, "db-port", env.getInt("CHICHA_DB_PORT", 0), "DB port (0 picks the driver default: 5432 for pgx, 9000 for clickhouse)")
	fs.StringVar(&cfg.DB.DBUser, "db-user", env.getString("CHICHA_DB_USER", "postgres"), "DB user (pgx or clickhouse)")
	fs.StringVar(&cfg.DB.DBPass, "db-pass", env.getString("CHICHA_DB_PASS", ""), "DB password (pgx or clickhouse)")
	fs.StringVar(&cfg.DB.DBName, "db-name", env.getString("CHICHA_DB_NAME", "IsotopePathways"), "DB name (pgx or clickhouse)")
	fs.StringVar(&cfg.DB.PGSSLMode, "pg-ssl-mode", env.getString("CHICHA_PG_SSL_MODE", "prefer"), "PostgreSQL SSL mode")
	fs.BoolVar(&cfg.DB.ClickSecure, "clickhouse-secure", env.getBool("CHICHA_CLICKHOUSE_SECURE", false), "Enable TLS for clickhouse connections")
	fs.IntVar(&cfg.DB.Port, "port", env.getInt("CHICHA_PORT", DefaultPort), "Map server port (used for the default database file name and map link)")

	fs.Float64Var(&cfg.Lat, "lat", env.getFloat("CHICHA_SEED_LAT", DefaultLat), "Marker latitude")
	fs.Float64Var(&cfg.Lon, "lon", env.getFloat("CHICHA_SEED_LON", DefaultLon), "Marker longitude")
	fs.StringVar(&cfg.TrackID, "track-id", env.getString("CHICHA_SEED_TRACK_ID", DefaultTrackID), "Track tag of the synthetic run")
	fs.StringVar(&cfg.Detector, "detector", env.getString("CHICHA_SEED_DETECTOR", DefaultDevice), "Detector / device model label")
	fs.IntVar(&cfg.SpectrumZoom, "spectrum-zoom", env.getInt("CHICHA_SEED_SPECTRUM_ZOOM", 0), "Zoom level whose marker carries the spectrum row")
	fs.BoolVar(&cfg.FlagAllZooms, "flag-all-zooms", env.getBool("CHICHA_SEED_FLAG_ALL_ZOOMS", true), "Set has_spectrum on every zoom marker, not only the one with the spectrum row")

	fs.StringVar(&cfg.MapHost, "map-host", env.getString("CHICHA_MAP_HOST", ""), "Host[:port] for the printed map link (default localhost:<port>)")
	fs.IntVar(&cfg.MapZoom, "map-zoom", env.getInt("CHICHA_MAP_ZOOM", 15), "Zoom level used in the printed map link")
	fs.StringVar(&cfg.QROut, "qr-out", env.getString("CHICHA_SEED_QR_OUT", ""), "Write the map link as a QR PNG to this path")
	fs.StringVar(&cfg.MetricsOut, "metrics-out", env.getString("CHICHA_SEED_METRICS_OUT", ""), "Write run metrics in Prometheus text format to this path")
	fs.BoolVar(&cfg.InitSchema, "init-schema", env.getBool("CHICHA_SEED_INIT_SCHEMA", true), "Create missing tables, columns and indexes before seeding")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	if cfg.DB.DBPort == 0 {
		cfg.DB.DBPort = defaultDBPort(cfg.DB.DBType)
	}
	if strings.TrimSpace(cfg.MapHost) == "" {
		cfg.MapHost = fmt.Sprintf("localhost:%d", cfg.DB.Port)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultDBPort returns the usual server port of a network driver.
func defaultDBPort(dbType string) int {
	if strings.EqualFold(strings.TrimSpace(dbType), "clickhouse") {
		return 9000
	}
	return 5432
}

func (c *Config) validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %g outside [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %g outside [-180, 180]", c.Lon)
	}
	if strings.TrimSpace(c.TrackID) == "" {
		return fmt.Errorf("track id must not be empty")
	}
	if c.SpectrumZoom < 0 || c.SpectrumZoom > MaxZoom {
		return fmt.Errorf("spectrum zoom %d outside [0, %d]", c.SpectrumZoom, MaxZoom)
	}
	if c.MapZoom < 0 || c.MapZoom > MaxZoom {
		return fmt.Errorf("map zoom %d outside [0, %d]", c.MapZoom, MaxZoom)
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.DB.Port)
	}
	return nil
}

// envSource reads typed defaults and remembers the first malformed value, so
// a typo in the environment fails loudly instead of silently using a default.
type envSource struct {
	getenv   func(string) string
	firstErr error
}

func newEnvSource(getenv func(string) string) *envSource {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &envSource{getenv: getenv}
}

func (e *envSource) err() error { return e.firstErr }

func (e *envSource) fail(key, value string) {
	if e.firstErr == nil {
		e.firstErr = fmt.Errorf("invalid %s=%q", key, value)
	}
}

func (e *envSource) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envSource) getString(key, fallback string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return fallback
}

func (e *envSource) getInt(key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return fallback
	}
	return i
}

func (e *envSource) getFloat(key string, fallback float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return fallback
	}
	return f
}

func (e *envSource) getBool(key string, fallback bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return fallback
	}
	return b
}
