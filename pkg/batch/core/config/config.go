// Package config provides the configuration structures of the chunkflow engine
// and the loader that fills them from embedded YAML, .env files and the environment.
package config

import (
	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// ItemRetryConfig holds chunk-level retry configuration.
type ItemRetryConfig struct {
	MaxAttempts         int      `yaml:"max_attempts"`         // Attempts per chunk, including the first.
	InitialInterval     int      `yaml:"initial_interval"`     // Initial backoff in milliseconds.
	MaxInterval         int      `yaml:"max_interval"`         // Backoff cap in milliseconds.
	Factor              float64  `yaml:"factor"`               // Backoff multiplier.
	RetryableExceptions []string `yaml:"retryable_exceptions"` // Error kind names classified RETRYABLE.
}

// ItemSkipConfig holds item-level skip configuration.
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"`           // Maximum skipped items per step execution.
	SkippableExceptions []string `yaml:"skippable_exceptions"` // Error kind names classified SKIPPABLE.
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists JobParameters keys whose values are masked in logs and storage.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// BatchConfig holds configuration specific to the chunk engine.
type BatchConfig struct {
	// JobName is the job launched when the command line names none.
	JobName string `yaml:"job_name"`
	// ChunkSize is the default commit interval.
	ChunkSize int `yaml:"chunk_size"`
	// TransformConcurrency bounds the parallel transform stage; 1 means sequential.
	TransformConcurrency int             `yaml:"transform_concurrency"`
	ItemRetry            ItemRetryConfig `yaml:"item_retry"`
	ItemSkip             ItemSkipConfig  `yaml:"item_skip"`
	// ListenerErrors is "fail" (default) or "warn".
	ListenerErrors string `yaml:"listener_errors"`
	// Incrementer is "run_id", "timestamp" or empty; it backs the -next launch flag.
	Incrementer string `yaml:"incrementer"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// RepositoryConfig selects the job repository backend.
type RepositoryConfig struct {
	// Type is "memory" or "sql".
	Type string `yaml:"type"`
	// DBRef names the database connection used when Type is "sql".
	DBRef string `yaml:"db_ref"`
	// AutoMigrate applies the embedded schema migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
	// JoinTransaction writes checkpoints inside the chunk transaction. Valid
	// only when the steps commit on the DBRef connection.
	JoinTransaction bool `yaml:"join_transaction"`
}

// CheckpointStoreConfig selects where execution contexts are stored.
type CheckpointStoreConfig struct {
	// Type is "repository" (same backend as the job repository) or "objectstore".
	Type       string `yaml:"type"`
	StorageRef string `yaml:"storage_ref"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
}

// LockConfig selects the launch lock.
type LockConfig struct {
	// Type is "memory" or "redis".
	Type     string `yaml:"type"`
	RedisURL string `yaml:"redis_url"`
	// TTLSeconds bounds how long a crashed process can hold a redis lock.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// MetricsConfig configures metric recording and the admin HTTP server.
type MetricsConfig struct {
	// Type is "none", "prometheus" or "otel".
	Type      string `yaml:"type"`
	AdminAddr string `yaml:"admin_addr"`
	// AsyncBufferSize queues measurements for a background worker when > 0.
	AsyncBufferSize int `yaml:"async_buffer_size"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Protocol is "grpc" or "http".
	Protocol    string `yaml:"protocol"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// InfrastructureConfig holds the backends the engine runs on.
type InfrastructureConfig struct {
	JobRepository   RepositoryConfig      `yaml:"job_repository"`
	CheckpointStore CheckpointStoreConfig `yaml:"checkpoint_store"`
	Lock            LockConfig            `yaml:"lock"`
	Metrics         MetricsConfig         `yaml:"metrics"`
	Tracing         TracingConfig         `yaml:"tracing"`
}

// ChunkflowConfig holds all configuration under the "chunkflow" top-level key.
type ChunkflowConfig struct {
	Batch          BatchConfig                            `yaml:"batch"`
	System         SystemConfig                           `yaml:"system"`
	Infrastructure InfrastructureConfig                   `yaml:"infrastructure"`
	Security       SecurityConfig                         `yaml:"security"`
	Databases      map[string]dbconfig.DatabaseConfig     `yaml:"database"`
	Storage        map[string]storageconfig.StorageConfig `yaml:"storage"`
	// Components holds free-form properties per component, decoded with mapstructure.
	Components map[string]map[string]interface{} `yaml:"components"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Chunkflow      ChunkflowConfig `yaml:"chunkflow"`
	EmbeddedConfig EmbeddedConfig  `yaml:"-"`
}

// GlobalConfig is the configuration shared across the application, set by NewConfigProvider.
var GlobalConfig *Config

// GetMaskedParameterKeys returns the keys to mask, or nil before configuration is loaded.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return nil
	}
	return GlobalConfig.Chunkflow.Security.MaskedParameterKeys
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkflow: ChunkflowConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Batch: BatchConfig{
				ChunkSize:            10,
				TransformConcurrency: 1,
				ListenerErrors:       "fail",
				ItemRetry: ItemRetryConfig{
					MaxAttempts:     3,
					InitialInterval: 100,
					MaxInterval:     2000,
					Factor:          2.0,
					RetryableExceptions: []string{
						"*net.OpError",
						"context.DeadlineExceeded",
						"OptimisticLockingFailure",
					},
				},
				ItemSkip: ItemSkipConfig{
					SkipLimit: 0,
					SkippableExceptions: []string{
						"*json.UnmarshalTypeError",
						"*strconv.NumError",
					},
				},
			},
			Infrastructure: InfrastructureConfig{
				JobRepository:   RepositoryConfig{Type: "memory", DBRef: "metadata"},
				CheckpointStore: CheckpointStoreConfig{Type: "repository", Prefix: "checkpoints"},
				Lock:            LockConfig{Type: "memory", TTLSeconds: 3600},
				Metrics:         MetricsConfig{Type: "none"},
				Tracing:         TracingConfig{Protocol: "grpc", ServiceName: "chunkflow"},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Databases:  map[string]dbconfig.DatabaseConfig{},
			Storage:    map[string]storageconfig.StorageConfig{},
			Components: map[string]map[string]interface{}{},
		},
	}
}
