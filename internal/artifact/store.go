// Package artifact stores the startup artifacts: the feature schema and the
// serialized model.
package artifact

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/sentify/internal/domain"
)

var (
	// ErrNotFound is returned by Get for an unknown artifact name.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidInput is returned by Put for an unusable artifact name.
	ErrInvalidInput = errors.New("invalid input")
)

// New creates an artifact store based on configuration.
func New(cfg domain.ArtifactConfig) (domain.ArtifactStore, error) {
	switch cfg.Source {
	case "", "file":
		return NewFileStore(cfg), nil
	case "sqlite", "postgres":
		return NewSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact source: %s", cfg.Source)
	}
}

// SQLStore implements domain.ArtifactStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens the configured database and runs migrations.
func NewSQLStore(cfg domain.ArtifactConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Source {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Source)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Source,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas(s.driver) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the content of a named artifact.
func (s *SQLStore) Get(ctx context.Context, name string) ([]byte, error) {
	query := `SELECT content FROM artifacts WHERE name = ?`

	var content []byte
	err := s.db.QueryRowContext(ctx, s.rebind(query), name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Put creates or replaces a named artifact.
func (s *SQLStore) Put(ctx context.Context, name string, content []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO artifacts (name, content, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			content = excluded.content,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query), name, content, Checksum(content), now, now)
	return err
}

// List describes every stored artifact ordered by name.
func (s *SQLStore) List(ctx context.Context) ([]domain.ArtifactInfo, error) {
	query := `
		SELECT name, LENGTH(content), checksum, updated_at
		FROM artifacts
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []domain.ArtifactInfo
	for rows.Next() {
		var info domain.ArtifactInfo
		if err := rows.Scan(&info.Name, &info.Size, &info.Checksum, &info.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// Checksum returns the hex sha256 of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
