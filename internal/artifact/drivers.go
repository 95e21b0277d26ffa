package artifact

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/sentify/internal/domain"
)

// openSQLite opens a SQLite database connection.
// Uses modernc.org/sqlite for pure Go implementation (no CGO required).
func openSQLite(cfg domain.ArtifactConfig) (*sql.DB, error) {
	path := sqlitePath(cfg)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return open("sqlite", sqliteDSN(path))
}

// openPostgres opens a PostgreSQL database connection.
func openPostgres(cfg domain.ArtifactConfig) (*sql.DB, error) {
	return open("postgres", postgresDSN(cfg))
}

func open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return db, nil
}

func sqlitePath(cfg domain.ArtifactConfig) string {
	if cfg.SQLitePath == "" {
		return "./sentify.db"
	}
	return cfg.SQLitePath
}

// sqliteDSN adds the pragmas used for every connection.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
}

func postgresDSN(cfg domain.ArtifactConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "sentify"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.PostgresUser, cfg.PostgresPassword, dbname, sslmode,
	)
}
