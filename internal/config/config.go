package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	ProviderOpenAICompatible = "openai-compatible"
	ProviderAnthropic        = "anthropic"
	ProviderCohere           = "cohere"

	DefaultSourceURL = "https://thefinancialexpress.com.bd/page/stock/bangladesh"
	DefaultGroqURL   = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

type Config struct {
	Env                 string           `yaml:"env"`
	LogLevel            string           `yaml:"log_level"`
	ListenAddress       string           `yaml:"listen_address"`
	HTTPReadTimeoutSec  int              `yaml:"http_read_timeout_sec"`
	HTTPWriteTimeoutSec int              `yaml:"http_write_timeout_sec"`
	HTTPIdleTimeoutSec  int              `yaml:"http_idle_timeout_sec"`
	AllowedOrigins      []string         `yaml:"allowed_origins"`
	Source              SourceConfig     `yaml:"source"`
	Database            DatabaseConfig   `yaml:"database"`
	Summarizer          SummarizerConfig `yaml:"summarizer"`
	Redis               RedisConfig      `yaml:"redis"`
	Archive             ArchiveConfig    `yaml:"archive"`
}

type SourceConfig struct {
	URL               string `yaml:"url"`
	ContainerSelector string `yaml:"container_selector"`
	FetchTimeoutSec   int    `yaml:"fetch_timeout_sec"`
	// IngestSchedule is a standard 5-field cron expression. Empty disables
	// periodic ingestion in the server.
	IngestSchedule string `yaml:"ingest_schedule"`
	IngestOnStart  bool   `yaml:"ingest_on_start"`
}

type DatabaseConfig struct {
	Driver             string `yaml:"driver"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Name               string `yaml:"name"`
	Path               string `yaml:"path"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
}

type SummarizerConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

type RedisConfig struct {
	URL        string `yaml:"url"`
	LockKey    string `yaml:"lock_key"`
	LockTTLSec int    `yaml:"lock_ttl_sec"`
}

type ArchiveConfig struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

func Default() Config {
	return Config{
		Env:                 "production",
		LogLevel:            "info",
		ListenAddress:       ":8000",
		HTTPReadTimeoutSec:  10,
		HTTPWriteTimeoutSec: 120,
		HTTPIdleTimeoutSec:  60,
		Source: SourceConfig{
			URL:               DefaultSourceURL,
			ContainerSelector: "#__layout > div > main",
			FetchTimeoutSec:   30,
		},
		Database: DatabaseConfig{
			Driver:             DriverMySQL,
			Host:               "localhost",
			Port:               3306,
			User:               "root",
			Name:               "news_db",
			Path:               "newsdigest.db",
			MaxOpenConns:       10,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
		},
		Summarizer: SummarizerConfig{
			Provider:    ProviderOpenAICompatible,
			BaseURL:     DefaultGroqURL,
			Model:       DefaultGroqModel,
			MaxTokens:   1000,
			Temperature: 0.7,
			TopP:        0.9,
			TimeoutSec:  60,
		},
		Redis: RedisConfig{
			LockKey:    "newsdigest:ingest:lock",
			LockTTLSec: 600,
		},
		Archive: ArchiveConfig{
			Prefix: "snapshots",
		},
	}
}

// Load builds the configuration once at process start: defaults, then the
// YAML file at path (if it exists), then .env, then process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(filepath.Clean(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	_ = godotenv.Load()
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes a starter config file. Secrets are left empty; they are
// expected to come from the environment.
func WriteDefault(path string) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	b, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("APP_ENV", &c.Env)
	str("LOG_LEVEL", &c.LogLevel)
	str("LISTEN_ADDRESS", &c.ListenAddress)
	str("SOURCE_URL", &c.Source.URL)
	str("INGEST_SCHEDULE", &c.Source.IngestSchedule)

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASS", &c.Database.Password)
	str("DB_NAME", &c.Database.Name)
	str("DB_PATH", &c.Database.Path)

	str("SUMMARIZER_PROVIDER", &c.Summarizer.Provider)
	c.Summarizer.Provider = NormalizeProvider(c.Summarizer.Provider)
	str("SUMMARIZER_BASE_URL", &c.Summarizer.BaseURL)
	str("SUMMARIZER_MODEL", &c.Summarizer.Model)
	switch c.Summarizer.Provider {
	case ProviderAnthropic:
		str("ANTHROPIC_API_KEY", &c.Summarizer.APIKey)
	case ProviderCohere:
		str("COHERE_API_KEY", &c.Summarizer.APIKey)
	default:
		str("GROQ_API_KEY", &c.Summarizer.APIKey)
	}
	str("SUMMARIZER_API_KEY", &c.Summarizer.APIKey)

	str("REDIS_URL", &c.Redis.URL)
	str("ARCHIVE_BUCKET", &c.Archive.Bucket)
}

// NormalizeProvider folds the accepted provider spellings onto the Provider*
// constants. Unknown names are returned lowercased for Validate to reject.
func NormalizeProvider(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "_", "-")
	switch t {
	case "openai", "groq", "openaicompatible":
		return ProviderOpenAICompatible
	}
	return t
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen_address is required")
	}
	if strings.TrimSpace(c.Source.URL) == "" {
		return errors.New("source.url is required")
	}
	if c.Source.FetchTimeoutSec <= 0 || c.Source.FetchTimeoutSec > 600 {
		return errors.New("source.fetch_timeout_sec must be 1..600")
	}
	switch c.Database.Driver {
	case DriverMySQL:
		if strings.TrimSpace(c.Database.Host) == "" || strings.TrimSpace(c.Database.Name) == "" {
			return errors.New("database.host and database.name are required for mysql")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return errors.New("database.port out of range")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return errors.New("database.max_open_conns must be positive")
	}
	switch c.Summarizer.Provider {
	case ProviderOpenAICompatible, ProviderAnthropic, ProviderCohere:
	default:
		return fmt.Errorf("unsupported summarizer.provider %q", c.Summarizer.Provider)
	}
	if c.Summarizer.MaxTokens <= 0 || c.Summarizer.MaxTokens > 8192 {
		return errors.New("summarizer.max_tokens must be 1..8192")
	}
	if c.Summarizer.Temperature < 0 || c.Summarizer.Temperature > 2 {
		return errors.New("summarizer.temperature out of range")
	}
	if c.Summarizer.TopP <= 0 || c.Summarizer.TopP > 1 {
		return errors.New("summarizer.top_p out of range")
	}
	if c.Redis.LockTTLSec <= 0 {
		return errors.New("redis.lock_ttl_sec must be positive")
	}
	return nil
}

func (c Config) IsDev() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.FetchTimeoutSec) * time.Second
}

func (c SummarizerConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}
