// Package storage persists jobs, structured components, assets and embeddings
// to SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Conn is the subset of *sql.DB and *sql.Tx the repositories need.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB wraps a connection pool with its driver so queries written with $N
// placeholders run on both backends.
type DB struct {
	*sql.DB
	driver string
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	var (
		name string
		dsn  string
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		name, dsn = "sqlite3", cfg.SQLite.Path
		if dsn == "" {
			dsn = ":memory:"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
	case DriverPostgres:
		name, dsn = "postgres", cfg.Postgres.DSN
	default:
		return nil, domain.ConfigError("unsupported database driver: "+cfg.Driver, nil)
	}

	sqlDB, err := sql.Open(name, dsn)
	if err != nil {
		return nil, domain.PersistenceError("open database", err)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if driver == DriverSQLite {
		// A single connection keeps :memory: databases and write locks coherent.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.Postgres.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, domain.PersistenceError("ping database", err)
	}

	return &DB{DB: sqlDB, driver: driver}, nil
}

// Driver returns "sqlite" or "postgres".
func (db *DB) Driver() string { return db.driver }

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Rebind converts $N placeholders to SQLite's ?N form.
func (db *DB) Rebind(query string) string {
	if db.driver == DriverPostgres {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?$1")
}

// Migrate applies pending migrations for the configured driver and returns
// the versions it applied.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	if err := db.ensureSchemaMigrationsTable(ctx); err != nil {
		return nil, domain.PersistenceError("ensure schema_migrations table", err)
	}

	files, err := db.migrationFiles()
	if err != nil {
		return nil, domain.PersistenceError("list migrations", err)
	}

	var applied []string
	for _, file := range files {
		version := migrationVersion(file)

		var exists int
		err := db.QueryRowContext(ctx, db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`), version).Scan(&exists)
		if err != nil {
			return applied, domain.PersistenceError("read schema_migrations", err)
		}
		if exists > 0 {
			continue
		}

		body, err := migrationFS.ReadFile("migrations/" + file)
		if err != nil {
			return applied, domain.PersistenceError("read migration "+file, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, domain.PersistenceError("begin migration", err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return applied, domain.PersistenceError("run migration "+file, err)
		}
		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO schema_migrations (version) VALUES ($1)`), version); err != nil {
			tx.Rollback()
			return applied, domain.PersistenceError("record migration "+file, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, domain.PersistenceError("commit migration "+file, err)
		}
		applied = append(applied, version)
	}
	return applied, nil
}

func (db *DB) ensureSchemaMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			version TEXT UNIQUE NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if db.driver == DriverSQLite {
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				version TEXT UNIQUE NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)
		`
	}
	_, err := db.ExecContext(ctx, query)
	return err
}

// migrationFiles lists the embedded migrations for the driver. SQLite prefers a
// "_sqlite.sql" variant when one exists.
func (db *DB) migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}

	generic := make(map[string]string)
	sqlite := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, "_sqlite.sql"):
			sqlite[strings.TrimSuffix(name, "_sqlite.sql")] = name
		case strings.HasSuffix(name, ".sql"):
			generic[strings.TrimSuffix(name, ".sql")] = name
		}
	}

	var files []string
	for base, name := range generic {
		if db.driver == DriverSQLite {
			if alt, ok := sqlite[base]; ok {
				name = alt
			}
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

func migrationVersion(file string) string {
	return strings.TrimSuffix(strings.TrimSuffix(file, ".sql"), "_sqlite")
}

// WithTx runs fn in a transaction, committing only when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.PersistenceError("commit transaction", err)
	}
	return nil
}
