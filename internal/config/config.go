// Package config loads application settings from defaults, an optional
// config file, a .env file and LEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBigQuery = "bigquery"
)

// Config holds application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Import  ImportConfig  `mapstructure:"import"`
	Storage StorageConfig `mapstructure:"storage"`
	GCS     GCSConfig     `mapstructure:"gcs"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Notion  NotionConfig  `mapstructure:"notion"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port           string  `mapstructure:"port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ImportConfig holds staging and import job settings.
type ImportConfig struct {
	RollbackGrace       time.Duration `mapstructure:"rollback_grace"`
	StagingTTL          time.Duration `mapstructure:"staging_ttl"`
	SupportedCurrencies []string      `mapstructure:"supported_currencies"`
	DefaultCurrency     string        `mapstructure:"default_currency"`
}

// StorageConfig selects where ledgers, staging rows, mappings and jobs live.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
}

// GCSConfig holds the statement archive bucket. Empty disables archiving.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// RedisConfig holds the event bus connection. Empty URL disables it.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// NotionConfig holds the ledger mirror settings.
type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

// GeminiConfig holds the suggestion model settings.
type GeminiConfig struct {
	Model string `mapstructure:"model"`
}

// CacheConfig holds the mapping resolver cache settings.
type CacheConfig struct {
	MappingTTL time.Duration `mapstructure:"mapping_ttl"`
}

// QueueConfig holds async import queue settings.
type QueueConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	Workers    int `mapstructure:"workers"`
}

// WorkerConfig holds janitor settings.
type WorkerConfig struct {
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("import.rollback_grace", "72h")
	v.SetDefault("import.staging_ttl", "24h")
	v.SetDefault("import.supported_currencies", []string{"GBP", "EUR", "USD", "PLN"})
	v.SetDefault("import.default_currency", "GBP")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.project_id", "")
	v.SetDefault("storage.dataset", "cashflow_ledger")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "ledger-events")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("cache.mapping_ttl", "5m")
	v.SetDefault("queue.buffer_size", 100)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("worker.purge_interval", "10m")
}

// Load reads configuration. A .env file in the working directory is loaded
// into the environment first; path, or LEDGER_CONFIG when path is empty,
// names an optional YAML config file. Env var overrides use prefix LEDGER_.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("LEDGER_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Import.SupportedCurrencies = normalizeCurrencies(c.Import.SupportedCurrencies)
	c.Import.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Import.DefaultCurrency))

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// normalizeCurrencies accepts both list values and a single comma
// separated env value.
func normalizeCurrencies(in []string) []string {
	var out []string
	for _, item := range in {
		for _, code := range strings.Split(item, ",") {
			if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
				out = append(out, code)
			}
		}
	}
	return out
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBigQuery:
		if c.Storage.ProjectID == "" || c.Storage.Dataset == "" {
			return fmt.Errorf("config: storage.project_id and storage.dataset are required for the bigquery backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Import.RollbackGrace <= 0 {
		return fmt.Errorf("config: import.rollback_grace must be positive")
	}
	if c.Import.StagingTTL <= 0 {
		return fmt.Errorf("config: import.staging_ttl must be positive")
	}
	if len(c.Import.SupportedCurrencies) == 0 {
		return fmt.Errorf("config: import.supported_currencies must not be empty")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("config: queue.workers must be positive")
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("config: server rate limit must be positive")
	}
	return nil
}
