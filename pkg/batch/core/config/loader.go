package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// loadConfig applies, in order: defaults, embedded YAML (with ${VAR}
// placeholders expanded after the .env file is loaded), and environment
// variables named after the yaml tags (CHUNKFLOW_BATCH_CHUNK_SIZE).
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment placeholders", err, false, false)
	}
	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads *Config, publishes it as
// GlobalConfig, applies the log level and validates the failure-policy kinds.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	GlobalConfig = cfg

	logger.SetLogLevel(cfg.Chunkflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Chunkflow.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration without fx.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// Validate checks values that would otherwise fail late inside a running step.
func Validate(cfg *Config) error {
	b := cfg.Chunkflow.Batch
	if b.ChunkSize < 1 {
		return exception.NewBatchErrorf(moduleName, nil, "batch.chunk_size must be >= 1, got %d", b.ChunkSize)
	}
	if b.TransformConcurrency < 1 {
		return exception.NewBatchErrorf(moduleName, nil, "batch.transform_concurrency must be >= 1, got %d", b.TransformConcurrency)
	}
	if b.ItemSkip.SkipLimit < 0 {
		return exception.NewBatchErrorf(moduleName, nil, "batch.item_skip.skip_limit must be >= 0, got %d", b.ItemSkip.SkipLimit)
	}
	switch strings.ToLower(b.ListenerErrors) {
	case "", "fail", "warn":
	default:
		return exception.NewBatchErrorf(moduleName, nil, "batch.listener_errors must be fail or warn, got %q", b.ListenerErrors)
	}
	switch strings.ToLower(b.Incrementer) {
	case "", "run_id", "timestamp":
	default:
		return exception.NewBatchErrorf(moduleName, nil, "batch.incrementer must be run_id or timestamp, got %q", b.Incrementer)
	}
	switch cfg.Chunkflow.Infrastructure.JobRepository.Type {
	case "memory", "sql":
	default:
		return exception.NewBatchErrorf(moduleName, nil, "infrastructure.job_repository.type must be memory or sql, got %q", cfg.Chunkflow.Infrastructure.JobRepository.Type)
	}
	if err := checkExceptionClasses(b.ItemRetry.RetryableExceptions, "ItemRetry"); err != nil {
		return exception.NewBatchError(moduleName, "failed to validate configured error kinds", err, false, false)
	}
	if err := checkExceptionClasses(b.ItemSkip.SkippableExceptions, "ItemSkip"); err != nil {
		return exception.NewBatchError(moduleName, "failed to validate configured error kinds", err, false, false)
	}
	return nil
}

// DecodeComponentProperties decodes the free-form properties configured for a
// component into target (a pointer to a struct with mapstructure tags).
func DecodeComponentProperties(cfg *Config, component string, target interface{}) error {
	props, ok := cfg.Chunkflow.Components[component]
	if !ok {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return exception.NewBatchError(moduleName, "failed to create properties decoder", err, false, false)
	}
	if err := decoder.Decode(props); err != nil {
		return exception.NewBatchErrorf(moduleName, err, "failed to decode properties of component %q", component)
	}
	return nil
}

func mergeConfig(dest, source *Config) {
	mergeChunkflowConfig(&dest.Chunkflow, &source.Chunkflow)
}

func mergeChunkflowConfig(dest, source *ChunkflowConfig) {
	mergeBatchConfig(&dest.Batch, &source.Batch)
	mergeSystemConfig(&dest.System, &source.System)
	mergeInfrastructureConfig(&dest.Infrastructure, &source.Infrastructure)

	if source.Security.MaskedParameterKeys != nil {
		dest.Security.MaskedParameterKeys = source.Security.MaskedParameterKeys
	}
	for k, v := range source.Databases {
		dest.Databases[k] = v
	}
	for k, v := range source.Storage {
		dest.Storage[k] = v
	}
	for k, v := range source.Components {
		dest.Components[k] = v
	}
}

func mergeBatchConfig(dest, source *BatchConfig) {
	if source.JobName != "" {
		dest.JobName = source.JobName
	}
	if source.ChunkSize != 0 {
		dest.ChunkSize = source.ChunkSize
	}
	if source.TransformConcurrency != 0 {
		dest.TransformConcurrency = source.TransformConcurrency
	}
	if source.ListenerErrors != "" {
		dest.ListenerErrors = source.ListenerErrors
	}
	if source.Incrementer != "" {
		dest.Incrementer = source.Incrementer
	}
	r, sr := &dest.ItemRetry, &source.ItemRetry
	if sr.MaxAttempts != 0 {
		r.MaxAttempts = sr.MaxAttempts
	}
	if sr.InitialInterval != 0 {
		r.InitialInterval = sr.InitialInterval
	}
	if sr.MaxInterval != 0 {
		r.MaxInterval = sr.MaxInterval
	}
	if sr.Factor != 0 {
		r.Factor = sr.Factor
	}
	if sr.RetryableExceptions != nil {
		r.RetryableExceptions = sr.RetryableExceptions
	}
	if source.ItemSkip.SkipLimit != 0 {
		dest.ItemSkip.SkipLimit = source.ItemSkip.SkipLimit
	}
	if source.ItemSkip.SkippableExceptions != nil {
		dest.ItemSkip.SkippableExceptions = source.ItemSkip.SkippableExceptions
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// mergeInfrastructureConfig copies every non-zero field of source into dest.
func mergeInfrastructureConfig(dest, source *InfrastructureConfig) {
	mergeNonZero(reflect.ValueOf(dest).Elem(), reflect.ValueOf(source).Elem())
}

func mergeNonZero(dest, source reflect.Value) {
	for i := 0; i < source.NumField(); i++ {
		sf, df := source.Field(i), dest.Field(i)
		if sf.Kind() == reflect.Struct {
			mergeNonZero(df, sf)
			continue
		}
		if !sf.IsZero() && df.CanSet() {
			df.Set(sf)
		}
	}
}

func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if strings.HasPrefix(name, "*") || strings.Contains(name, ".") {
			// Type names are matched structurally at runtime.
			continue
		}
		if !exception.IsErrorTypeRegistered(name) {
			return fmt.Errorf("%s configuration references unknown error kind: '%s'", configType, name)
		}
	}
	return nil
}

// loadStructFromEnv recursively loads configuration values into a struct from
// environment variables named after the upper-cased yaml tag path.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map:
			if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
				if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
					return err
				}
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv fills map[string]struct fields: with prefix
// CHUNKFLOW_DATABASE_, the variable CHUNKFLOW_DATABASE_METADATA_HOST sets Host
// of the "metadata" entry.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := strings.SplitN(parts[0], "_", 2)
		if len(keyAndField) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndField[0])

		structVal := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			structVal.Set(existing)
		}
		if err := setStructFieldFromEnv(structVal, keyAndField[1], parts[1]); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		if strings.EqualFold(yamlTag, fieldName) {
			return setField(structVal.Field(i), value)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			items := strings.Split(value, ",")
			for i := range items {
				items[i] = strings.TrimSpace(items[i])
			}
			field.Set(reflect.ValueOf(items))
		}
	}
	return nil
}
