package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and safe for concurrent reads.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Events  EventsConfig  `yaml:"events"`
	Redis   RedisConfig   `yaml:"redis"`
	Journal JournalConfig `yaml:"journal"`
	Archive ArchiveConfig `yaml:"archive"`
	Loader  LoaderConfig  `yaml:"loader"`
}

// APIConfig points at the proposal backend.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"-"` // env-only, never in YAML
	Timeout Duration `yaml:"timeout"`
}

// ServerConfig contains console HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
	AuthToken       string   `yaml:"-"` // env-only; empty disables console auth
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Event bus drivers.
const (
	DriverMemory  = "memory"
	DriverRedis   = "redis"
	DriverJournal = "journal"
)

// EventsConfig selects the change-notification bus.
type EventsConfig struct {
	Driver     string `yaml:"driver"`
	BufferSize int    `yaml:"buffer_size"`
}

// RedisConfig configures the redis event bus.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"` // env-only
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// JournalConfig configures the SQLite event journal.
type JournalConfig struct {
	Path         string   `yaml:"path"`
	PollInterval Duration `yaml:"poll_interval"`
	Retention    Duration `yaml:"retention"`
}

// ArchiveConfig configures S3-compatible storage for rendered contracts.
// An empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only
	SecretKey string   `yaml:"-"` // env-only
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LoaderConfig tunes list and detail fetching.
type LoaderConfig struct {
	PageSize    int `yaml:"page_size"`
	Concurrency int `yaml:"concurrency"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("BIDKIT_CONFIG_PATH", "config/bidkit.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	useSSL := true
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			MaxUploadBytes:  5 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Events: EventsConfig{
			Driver:     DriverMemory,
			BufferSize: 64,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "bidkit-events",
		},
		Journal: JournalConfig{
			Path:         "data/bidkit-events.db",
			PollInterval: Duration(2 * time.Second),
			Retention:    Duration(7 * 24 * time.Hour),
		},
		Archive: ArchiveConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Loader: LoaderConfig{
			PageSize:    50,
			Concurrency: 4,
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("BIDKIT_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("BIDKIT_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	setDuration("BIDKIT_API_TIMEOUT", &cfg.API.Timeout)

	// Server
	setInt("BIDKIT_PORT", &cfg.Server.Port)
	setDuration("BIDKIT_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("BIDKIT_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("BIDKIT_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	if v := os.Getenv("BIDKIT_CONSOLE_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("BIDKIT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxUploadBytes = n
		}
	}

	// Log
	if v := os.Getenv("BIDKIT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BIDKIT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Events
	if v := os.Getenv("BIDKIT_EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = strings.ToLower(v)
	}
	setInt("BIDKIT_EVENTS_BUFFER_SIZE", &cfg.Events.BufferSize)

	// Redis (REDIS_ADDR is the common convention)
	if v := getEnv("BIDKIT_REDIS_ADDR", os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BIDKIT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	setInt("BIDKIT_REDIS_DB", &cfg.Redis.DB)
	if v := os.Getenv("BIDKIT_REDIS_CHANNEL"); v != "" {
		cfg.Redis.Channel = v
	}

	// Journal
	if v := os.Getenv("BIDKIT_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	setDuration("BIDKIT_JOURNAL_POLL_INTERVAL", &cfg.Journal.PollInterval)
	setDuration("BIDKIT_JOURNAL_RETENTION", &cfg.Journal.Retention)

	// Archive
	if v := os.Getenv("BIDKIT_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("BIDKIT_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("BIDKIT_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("BIDKIT_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("BIDKIT_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("BIDKIT_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.Archive.UseSSL = &b
	}
	setDuration("BIDKIT_S3_URL_EXPIRY", &cfg.Archive.URLExpiry)

	// Loader
	setInt("BIDKIT_LOADER_PAGE_SIZE", &cfg.Loader.PageSize)
	setInt("BIDKIT_LOADER_CONCURRENCY", &cfg.Loader.Concurrency)
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks values that would otherwise fail late at runtime.
func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.New("BIDKIT_API_URL is required")
	}
	switch c.Events.Driver {
	case DriverMemory, DriverRedis, DriverJournal:
	default:
		return fmt.Errorf("unknown events driver %q", c.Events.Driver)
	}
	if c.Events.Driver == DriverJournal && c.Journal.PollInterval <= 0 {
		return errors.New("journal.poll_interval must be positive")
	}
	if c.Loader.Concurrency < 1 {
		return errors.New("loader.concurrency must be at least 1")
	}
	if c.Archive.Bucket != "" && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return errors.New("BIDKIT_S3_ACCESS_KEY and BIDKIT_S3_SECRET_KEY are required when archive.bucket is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
