package config

import "go.uber.org/fx"

// NewLoggingConfigProvider exposes the logging section on its own.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Chunkflow.System.Logging
}

// NewBatchConfigProvider exposes the batch section on its own.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.Chunkflow.Batch
}

// Module provides *Config (from an EmbeddedConfig supplied by the application)
// and its commonly used sections.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewBatchConfigProvider),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)
