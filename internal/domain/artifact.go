package domain

import (
	"context"
	"time"
)

// Artifact names used at startup.
const (
	SchemaArtifact = "churn_feature_schema"
	ModelArtifact  = "churn_model"
)

// ArtifactReader reads named artifacts.
type ArtifactReader interface {
	// Get returns the content of a named artifact.
	Get(ctx context.Context, name string) ([]byte, error)
}

// ArtifactStore holds the read-only startup artifacts: the feature schema and
// the serialized model. The service only reads it once, before serving.
type ArtifactStore interface {
	ArtifactReader

	// Put creates or replaces a named artifact.
	Put(ctx context.Context, name string, content []byte) error

	// List describes every stored artifact.
	List(ctx context.Context) ([]ArtifactInfo, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ArtifactInfo describes a stored artifact without its content.
type ArtifactInfo struct {
	Name      string    `json:"name" yaml:"name"`
	Size      int       `json:"size" yaml:"size"`
	Checksum  string    `json:"checksum" yaml:"checksum"` // sha256, hex
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// ArtifactConfig holds configuration for artifact store initialization.
type ArtifactConfig struct {
	// Source is the store type: "file", "sqlite" or "postgres"
	Source string `json:"source" yaml:"source"`

	// Artifact names to load at startup
	SchemaName string `json:"schemaName" yaml:"schemaName"`
	ModelName  string `json:"modelName" yaml:"modelName"`

	// File store: where the named artifacts live on disk
	SchemaPath string `json:"schemaPath" yaml:"schemaPath"`
	ModelPath  string `json:"modelPath" yaml:"modelPath"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDB" yaml:"postgresDB"`
	PostgresSSLMode  string `json:"postgresSSLMode" yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
