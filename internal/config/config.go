// Package config loads service configuration from defaults, an optional
// config file, a .env file and FINTRACK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "FINTRACK"

// Config is the complete service configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	LLM      LLMConfig      `mapstructure:"llm"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Export   ExportConfig   `mapstructure:"export"`
	API      APIConfig      `mapstructure:"api"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	// Driver is one of postgres, sqlite or memory.
	Driver      string `mapstructure:"driver"`
	URL         string `mapstructure:"url"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type QueueConfig struct {
	// Driver is one of memory or postgres.
	Driver            string        `mapstructure:"driver"`
	Name              string        `mapstructure:"name"`
	Workers           int           `mapstructure:"workers"`
	Buffer            int           `mapstructure:"buffer"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

type IngestConfig struct {
	MaxDescriptionLength int    `mapstructure:"max_description_length"`
	MaxExtractionChars   int    `mapstructure:"max_extraction_chars"`
	MaxFileBytes         int64  `mapstructure:"max_file_bytes"`
	DefaultCurrency      string `mapstructure:"default_currency"`
	// DecimalSeparator is auto, "." or ",".
	DecimalSeparator string    `mapstructure:"decimal_separator"`
	CSV              CSVConfig `mapstructure:"csv"`
}

type CSVConfig struct {
	Delimiter string `mapstructure:"delimiter"`
	// Columns maps canonical field names to source header names.
	Columns map[string]string `mapstructure:"columns"`
}

type LLMConfig struct {
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type UploadsConfig struct {
	// Dir receives uploads when Bucket is empty.
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type ExportConfig struct {
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
	Table   string `mapstructure:"table"`
}

// Enabled reports whether committed transactions should be mirrored.
func (c BigQueryConfig) Enabled() bool {
	return c.Project != "" && c.Dataset != "" && c.Table != ""
}

type APIConfig struct {
	Port           string `mapstructure:"port"`
	EmbeddedWorker bool   `mapstructure:"embedded_worker"`
}

// Load reads configuration. path may name a config file; when empty,
// config.yaml is looked up in the working directory and ./config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("gcs.credentials_file", EnvPrefix+"_GCS_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("uploads.bucket", EnvPrefix+"_UPLOADS_BUCKET", "GCS_BUCKET")

	return FromViper(v)
}

// FromViper decodes and validates an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "data/ledger.db")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.name", "ingest-statement")
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.buffer", 100)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.visibility_timeout", 5*time.Minute)
	v.SetDefault("queue.shutdown_timeout", 30*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.max_backoff", time.Minute)
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("ingest.max_description_length", 255)
	v.SetDefault("ingest.max_extraction_chars", 25000)
	v.SetDefault("ingest.max_file_bytes", 20<<20)
	v.SetDefault("ingest.default_currency", "USD")
	v.SetDefault("ingest.decimal_separator", "auto")
	v.SetDefault("ingest.csv.delimiter", ",")
	v.SetDefault("ingest.csv.columns", map[string]string{})

	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.prefix", "uploads")

	v.SetDefault("api.port", "8080")
	v.SetDefault("api.embedded_worker", true)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Log.Format)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %s", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "postgres":
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("queue driver postgres requires database driver postgres")
		}
	default:
		return fmt.Errorf("unknown queue driver: %s", c.Queue.Driver)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got: %d", c.Queue.Workers)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got: %v", c.Retry.Multiplier)
	}

	if c.Ingest.MaxDescriptionLength < 1 {
		return fmt.Errorf("ingest.max_description_length must be positive")
	}
	if c.Ingest.MaxExtractionChars < 1 {
		return fmt.Errorf("ingest.max_extraction_chars must be positive")
	}
	switch c.Ingest.DecimalSeparator {
	case "auto", ".", ",":
	default:
		return fmt.Errorf("ingest.decimal_separator must be auto, '.' or ',', got: %s", c.Ingest.DecimalSeparator)
	}
	if len([]rune(c.Ingest.CSV.Delimiter)) != 1 {
		return fmt.Errorf("CSV delimiter must be a single character, got: %s", c.Ingest.CSV.Delimiter)
	}
	if len(c.Ingest.DefaultCurrency) != 3 {
		return fmt.Errorf("ingest.default_currency must be an ISO 4217 code, got: %s", c.Ingest.DefaultCurrency)
	}

	return nil
}

// DelimiterRune returns the configured CSV delimiter.
func (c CSVConfig) DelimiterRune() rune {
	r := []rune(c.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// Separator returns the configured decimal separator, or 0 for auto.
func (c IngestConfig) Separator() rune {
	switch c.DecimalSeparator {
	case ".":
		return '.'
	case ",":
		return ','
	}
	return 0
}
