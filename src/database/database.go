package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	stdlog "log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/username/opsledger/src/logger"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var DB *sql.DB

// InitDB opens the application database and brings its schema up to date.
// Any failure is fatal.
func InitDB(databasePath string, maxConns int) {
	db, err := Open(databasePath, maxConns)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	logger.L.Info("Checking database migrations", "databasePath", databasePath)
	if err := Migrate(db); err != nil {
		logger.L.Error("failed to migrate database", "error", err)
		stdlog.Fatalf("failed to migrate database: %v", err)
	}
	logger.L.Info("Database schema ensured.")

	DB = db
}

// Open opens a SQLite database with foreign keys enforced and a busy timeout.
// maxConns bounds the pool; in-memory databases are pinned to one connection
// since every connection would otherwise see its own empty database.
func Open(databasePath string, maxConns int) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(databasePath, "?") {
		sep = "&"
	}
	dsn := databasePath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if strings.Contains(databasePath, ":memory:") || maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate applies every pending embedded migration.
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	// m.Close would close db as well; the caller owns it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.L.Debug("Database migration state", "version", version, "dirty", dirty)
	}
	return nil
}
