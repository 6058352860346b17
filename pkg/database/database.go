package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Database wraps the shared *sql.DB handle together with the normalized
// driver name, so SQL builders can switch on a single field.
type Database struct {
	DB     *sql.DB // The underlying SQL database connection
	Driver string  // Normalized driver name

	ids *idGenerator // only for engines without auto-assigned keys
}

// Config holds the configuration details for initializing the database.
type Config struct {
	DBType      string // sqlite, chai, genji, duckdb, pgx (PostgreSQL) or clickhouse
	DBPath      string // File path for file-based engines
	DBConn      string // Raw DSN for network drivers (pgx or clickhouse)
	DBHost      string // Host for network drivers
	DBPort      int    // Port for network drivers
	DBUser      string // User for network drivers
	DBPass      string // Password for network drivers
	DBName      string // Database name for network drivers
	PGSSLMode   string // SSL mode for PostgreSQL
	ClickSecure bool   // Enable TLS when connecting to ClickHouse
	Port        int    // Map server port, used in default database file names
}

// normalizeDBType trims and lowercases driver names so switch blocks below do
// not miss engine-specific handling because of incidental case or whitespace.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// DefaultPath returns the database file the map server uses for cfg when no
// explicit path was given, e.g. database-8765.sqlite.
func DefaultPath(cfg Config) string {
	driver := normalizeDBType(cfg.DBType)
	if p := strings.TrimSpace(cfg.DBPath); p != "" {
		return p
	}
	return fmt.Sprintf("database-%d.%s", cfg.Port, driver)
}

// ClickHouseDSNFromConfig assembles a clickhouse:// DSN. We parse host/port
// carefully so IPv6 literals keep their brackets intact.
func ClickHouseDSNFromConfig(cfg Config) string {
	if trimmed := strings.TrimSpace(cfg.DBConn); trimmed != "" {
		return trimmed
	}

	host := strings.TrimSpace(cfg.DBHost)
	if host == "" {
		host = "127.0.0.1"
	}

	if _, _, err := net.SplitHostPort(host); err != nil {
		port := cfg.DBPort
		if port <= 0 {
			port = 9000
		}
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}

	user := strings.TrimSpace(cfg.DBUser)
	pass := cfg.DBPass
	name := strings.Trim(strings.TrimSpace(cfg.DBName), "/")

	dsn := url.URL{Scheme: "clickhouse", Host: host}
	if user != "" {
		if strings.TrimSpace(pass) != "" {
			dsn.User = url.UserPassword(user, pass)
		} else {
			dsn.User = url.User(user)
		}
	}
	if name != "" {
		dsn.Path = "/" + name
	}

	params := url.Values{}
	if cfg.ClickSecure {
		params.Set("secure", "true")
	}
	dsn.RawQuery = params.Encode()
	return dsn.String()
}

// PostgresDSNFromConfig returns cfg.DBConn or builds a postgres:// URL.
func PostgresDSNFromConfig(cfg Config) string {
	if trimmed := strings.TrimSpace(cfg.DBConn); trimmed != "" {
		return trimmed
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.DBUser, cfg.DBPass),
		Host:   net.JoinHostPort(cfg.DBHost, strconv.Itoa(cfg.DBPort)),
		Path:   "/" + cfg.DBName,
	}
	if mode := strings.TrimSpace(cfg.PGSSLMode); mode != "" {
		u.RawQuery = url.Values{"sslmode": {mode}}.Encode()
	}
	return u.String()
}

// NewDatabase opens DB and configures connection pooling.
// For SQLite-like engines we force single-connection mode: the seeder writes
// into a file that the map server may also have open.
func NewDatabase(ctx context.Context, config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	var (
		dsn      string
		location string // what we print; never contains credentials
	)

	switch driverName {
	case "sqlite", "chai", "genji", "duckdb":
		dsn = DefaultPath(config)
		location = dsn
	case "pgx":
		dsn = PostgresDSNFromConfig(config)
		location = fmt.Sprintf("%s:%d/%s", config.DBHost, config.DBPort, config.DBName)
	case "clickhouse":
		dsn = ClickHouseDSNFromConfig(config)
		location = fmt.Sprintf("%s:%d/%s", config.DBHost, config.DBPort, config.DBName)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}

	switch driverName {
	case "sqlite", "chai", "genji", "duckdb":
		// One physical connection; a transaction then owns it for the whole run.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case "pgx", "clickhouse":
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Cheap liveness probe with timeout so we don't hang at startup
	{
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to %s database: %w", driverName, err)
		}
	}

	switch driverName {
	case "sqlite":
		tuneCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := tuneSQLiteLikeConnection(tuneCtx, db, log.Printf); err != nil {
			log.Printf("sqlite tuning skipped: %v", err)
		}
		cancel()
	case "chai", "genji":
		log.Printf("sqlite tuning skipped: driver %s manages pragmas itself", driverName)
	case "duckdb":
		tuneCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := tuneDuckDBConnection(tuneCtx, db, log.Printf); err != nil {
			log.Printf("duckdb tuning skipped: %v", err)
		}
		cancel()
	}

	log.Printf("Using database driver: %s at %s", driverName, location)

	out := &Database{DB: db, Driver: driverName}
	if needsExplicitIDs(driverName) {
		out.ids = startIDGenerator(out.maxExistingID(ctx) + 1)
	}
	return out, nil
}

// Close stops the id generator (if any) and closes the pool.
func (db *Database) Close() error {
	if db.ids != nil {
		db.ids.Stop()
	}
	return db.DB.Close()
}

// SupportsTransactions reports whether a multi-statement transaction gives
// all-or-nothing semantics on this engine. ClickHouse accepts BEGIN only as a
// batching hint, so we write directly there.
func (db *Database) SupportsTransactions() bool {
	return db.Driver != "clickhouse"
}

// needsExplicitIDs lists engines that cannot assign primary keys themselves.
func needsExplicitIDs(driver string) bool {
	return driver == "genji" || driver == "clickhouse"
}

// maxExistingID bootstraps the generator from the highest id in markers and
// spectra. Errors are ignored: tables are missing on a fresh file.
func (db *Database) maxExistingID(ctx context.Context) int64 {
	var highest int64
	for _, table := range []string{"markers", "spectra"} {
		var v sql.NullInt64
		if err := db.DB.QueryRowContext(ctx, "SELECT MAX(id) FROM "+table).Scan(&v); err != nil {
			continue
		}
		if v.Valid && v.Int64 > highest {
			highest = v.Int64
		}
	}
	return highest
}

// idGenerator hands out unique ids from a single goroutine.
type idGenerator struct {
	next chan int64
	stop chan struct{}
	once sync.Once
}

func startIDGenerator(initialID int64) *idGenerator {
	g := &idGenerator{
		next: make(chan int64),
		stop: make(chan struct{}),
	}
	go func(current int64) {
		for {
			select {
			case g.next <- current:
				current++
			case <-g.stop:
				return
			}
		}
	}(initialID)
	return g
}

// Next returns the next id. It must not be called after Stop.
func (g *idGenerator) Next() int64 { return <-g.next }

// Stop terminates the generator goroutine. Safe to call more than once.
func (g *idGenerator) Stop() { g.once.Do(func() { close(g.stop) }) }

// tuneSQLiteLikeConnection applies WAL/synchronous/busy pragmas. The steps run
// through a small channel pipeline; the producer gives up as soon as the
// consumer stops so an early failure never strands a goroutine.
func tuneSQLiteLikeConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	type pragma struct {
		label     string
		query     string
		expectRow bool
	}

	steps := []pragma{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "foreign_keys", query: "PRAGMA foreign_keys=ON;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}

	return runPragmaPipeline(ctx, len(steps), func(i int) error {
		step := steps[i]
		if step.expectRow {
			var mode string
			if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
				return fmt.Errorf("apply %s: %w", step.label, err)
			}
			logf("SQLite tuning %s -> %s", step.label, mode)
			return nil
		}
		if _, err := db.ExecContext(ctx, step.query); err != nil {
			return fmt.Errorf("apply %s: %w", step.label, err)
		}
		logf("SQLite tuning %s applied", step.label)
		return nil
	})
}

// tuneDuckDBConnection sizes the worker pool to the available CPUs.
func tuneDuckDBConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	steps := []struct{ label, query string }{
		{label: "threads", query: fmt.Sprintf("PRAGMA threads=%d;", threads)},
	}
	return runPragmaPipeline(ctx, len(steps), func(i int) error {
		if _, err := db.ExecContext(ctx, steps[i].query); err != nil {
			return fmt.Errorf("apply %s: %w", steps[i].label, err)
		}
		logf("DuckDB tuning %s applied", steps[i].label)
		return nil
	})
}

// runPragmaPipeline feeds step indexes to a single worker goroutine and
// returns the first error. Both goroutines exit before it returns.
func runPragmaPipeline(ctx context.Context, n int, apply func(int) error) error {
	jobs := make(chan int)
	done := make(chan struct{})
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(done)
		for i := range jobs {
			if err := ctx.Err(); err != nil {
				errs <- err
				return
			}
			if err := apply(i); err != nil {
				errs <- err
				return
			}
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-done:
				return
			}
		}
	}()

	return <-errs
}
