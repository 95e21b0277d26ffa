package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Sentify configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which backends are wired by default
	Tier Tier `json:"tier" yaml:"tier"`

	// Startup artifacts (feature schema + model)
	Artifacts ArtifactConfig `json:"artifacts" yaml:"artifacts"`

	// Scoring behaviour
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Component configurations
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	EventBus EventBusConfig `json:"eventBus" yaml:"eventBus"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
	MaxBodyBytes int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
}

// ScoringConfig holds scoring service settings.
type ScoringConfig struct {
	// DefaultValue is substituted for features missing from a request.
	DefaultValue float64 `json:"defaultValue" yaml:"defaultValue"`

	// InferenceTimeoutMs bounds a single model call. 0 disables the bound.
	InferenceTimeoutMs int `json:"inferenceTimeoutMs" yaml:"inferenceTimeoutMs"`

	// UnwrapEnvelope scores the inner object of {"features": {...}} bodies.
	// Off by default: "features" is then an ordinary unknown key.
	UnwrapEnvelope bool `json:"unwrapEnvelope" yaml:"unwrapEnvelope"`
}

// InferenceTimeout returns the inference bound as a duration.
func (c ScoringConfig) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutMs) * time.Millisecond
}

// MonitorConfig holds fallback monitoring settings.
type MonitorConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// WindowSecs is the counter window for prediction and fallback counts.
	WindowSecs int `json:"windowSecs" yaml:"windowSecs"`
}

// Window returns the counter window as a duration.
func (c MonitorConfig) Window() time.Duration {
	return time.Duration(c.WindowSecs) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on local files, an in-process LRU and Go channels
	TierCommunity Tier = "community"

	// TierPro shares counters and events across replicas via Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 1 << 20,
		},
		Tier: TierCommunity,
		Artifacts: ArtifactConfig{
			Source:     "file",
			SchemaName: SchemaArtifact,
			ModelName:  ModelArtifact,
			SchemaPath: "models/churn_feature_schema.json",
			ModelPath:  "models/churn_model.json",
			SQLitePath: "./sentify.db",
		},
		Scoring: ScoringConfig{
			DefaultValue:       0,
			InferenceTimeoutMs: 0, // no bound unless configured
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Monitor: MonitorConfig{
			Enabled:    true,
			WindowSecs: 3600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentify",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Load builds the process configuration: the tier defaults selected by
// SENTIFY_TIER, then the YAML file named by SENTIFY_CONFIG, then SENTIFY_*
// environment overrides. The result is validated.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	if v, ok := lookup("SENTIFY_TIER"); ok && Tier(v) == TierPro {
		cfg = ProConfig()
	}

	if path, ok := lookup("SENTIFY_CONFIG"); ok && path != "" {
		if err := LoadConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile overlays the YAML document at path onto cfg.
// Fields absent from the file keep their current values.
func LoadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays SENTIFY_* environment variables onto cfg.
// lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("SENTIFY_HOST", &cfg.Server.Host)
	if err := num("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := num("SENTIFY_PORT", &cfg.Server.Port); err != nil {
		return err
	}

	str("SENTIFY_ARTIFACT_SOURCE", &cfg.Artifacts.Source)
	str("SENTIFY_SCHEMA_PATH", &cfg.Artifacts.SchemaPath)
	str("SENTIFY_MODEL_PATH", &cfg.Artifacts.ModelPath)
	str("SENTIFY_SQLITE_PATH", &cfg.Artifacts.SQLitePath)
	str("SENTIFY_POSTGRES_HOST", &cfg.Artifacts.PostgresHost)
	str("SENTIFY_POSTGRES_USER", &cfg.Artifacts.PostgresUser)
	str("SENTIFY_POSTGRES_PASSWORD", &cfg.Artifacts.PostgresPassword)
	str("SENTIFY_POSTGRES_DB", &cfg.Artifacts.PostgresDB)

	if err := num("SENTIFY_INFERENCE_TIMEOUT_MS", &cfg.Scoring.InferenceTimeoutMs); err != nil {
		return err
	}

	if v, ok := lookup("SENTIFY_UNWRAP_ENVELOPE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SENTIFY_UNWRAP_ENVELOPE: %w", err)
		}
		cfg.Scoring.UnwrapEnvelope = b
	}

	str("SENTIFY_CACHE", &cfg.Cache.Type)
	str("SENTIFY_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("SENTIFY_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	str("SENTIFY_EVENTBUS", &cfg.EventBus.Type)
	str("SENTIFY_NATS_URL", &cfg.EventBus.NATSUrl)
	str("SENTIFY_NATS_TOKEN", &cfg.EventBus.NATSToken)

	if v, ok := lookup("SENTIFY_DEBUG"); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}
	str("SENTIFY_LOG_FORMAT", &cfg.Logging.Format)

	return nil
}

// Validate checks that the configuration can be wired.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Artifacts.Source {
	case "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported artifact source: %s", c.Artifacts.Source)
	}

	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}

	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", c.EventBus.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}

	if c.Scoring.InferenceTimeoutMs < 0 {
		return fmt.Errorf("inferenceTimeoutMs must not be negative")
	}
	if c.Monitor.Enabled && c.Monitor.WindowSecs <= 0 {
		return fmt.Errorf("monitor.windowSecs must be positive")
	}

	return nil
}
