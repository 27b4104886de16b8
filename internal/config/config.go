package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/delivery-stats/internal/domain"
)

// ErrNoAccounts is returned when no account configuration was supplied.
var ErrNoAccounts = errors.New("config: no accounts configured")

// Account sources.
const (
	AccountsFromYAML     = "yaml"
	AccountsFromEnv      = "env"
	AccountsFromPostgres = "postgres"
)

// Credential store kinds.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Config holds all configuration for the collector
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Grab      PlatformConfig  `yaml:"grab"`
	Gojek     GojekConfig     `yaml:"gojek"`
	Collector CollectorConfig `yaml:"collector"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Export    ExportConfig    `yaml:"export"`
	Accounts  AccountsConfig  `yaml:"accounts"`
}

// ServerConfig holds ops HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port" validate:"gte=0,lte=65535"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
}

// PlatformConfig holds one analytics backend's client settings.
type PlatformConfig struct {
	BaseURL           string  `yaml:"base_url" validate:"required,url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// Timeout returns the request timeout as a duration
func (c PlatformConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GojekConfig adds the host zone GoJek buckets days by.
type GojekConfig struct {
	PlatformConfig `yaml:",inline"`
	// Timezone pins the local day, e.g. Asia/Jakarta. Empty uses the host zone.
	Timezone string `yaml:"timezone"`
}

// Location returns the zone GoJek windows are computed in.
func (c GojekConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("gojek timezone: %w", err)
	}
	return loc, nil
}

// CollectorConfig holds the retry policy and run shape.
type CollectorConfig struct {
	MissingStreakLimit  int `yaml:"missing_streak_limit" validate:"gte=1"`
	ErrorStreakLimit    int `yaml:"error_streak_limit" validate:"gte=1"`
	TransientRetryCap   int `yaml:"transient_retry_cap" validate:"gte=0"`
	ParallelAccounts    int `yaml:"parallel_accounts" validate:"gte=1"`
	RecentDays          int `yaml:"recent_days" validate:"gte=1"`
	HistoryPeriodMonths int `yaml:"history_period_months" validate:"gte=1"`
	HistoryMaxPeriods   int `yaml:"history_max_periods" validate:"gte=1"`
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

// RedisConfig holds the optional Redis used for locks and the credential mirror.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db" validate:"gte=0"`
	MirrorTTLHours int    `yaml:"mirror_ttl_hours" validate:"gte=0"`
}

// MirrorTTL returns the credential mirror TTL.
func (c RedisConfig) MirrorTTL() time.Duration {
	return time.Duration(c.MirrorTTLHours) * time.Hour
}

// StorageConfig selects the credential store.
type StorageConfig struct {
	Credentials        string `yaml:"credentials" validate:"oneof=file postgres dynamodb memory"`
	StatePath          string `yaml:"state_path"`
	DynamoDBTable      string `yaml:"dynamodb_table"`
	S3Bucket           string `yaml:"s3_bucket"`
	AWSRegion          string `yaml:"aws_region"`
	AWSProfile         string `yaml:"aws_profile"` // Empty string uses default credential chain
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
}

// ExportConfig holds the central store sinks.
type ExportConfig struct {
	Endpoint         string          `yaml:"endpoint" validate:"omitempty,url"`
	APIKey           string          `yaml:"api_key"`
	TimeoutSeconds   int             `yaml:"timeout_seconds" validate:"gte=0"`
	BatchDays        int             `yaml:"batch_days" validate:"gte=1"`
	BatchAccounts    int             `yaml:"batch_accounts" validate:"gte=1"`
	FailureThreshold uint32          `yaml:"failure_threshold"`
	Archive          bool            `yaml:"archive"`
	ArchivePrefix    string          `yaml:"archive_prefix"`
	Snowflake        SnowflakeConfig `yaml:"snowflake"`
}

// Timeout returns the export request timeout.
func (c ExportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SnowflakeConfig holds the optional warehouse sink.
type SnowflakeConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ConnectionString string `yaml:"connection_string"`
	Warehouse        string `yaml:"warehouse"`
	Table            string `yaml:"table"`
}

// AccountsConfig says where accounts come from.
type AccountsConfig struct {
	Source string           `yaml:"source" validate:"oneof=yaml env postgres"`
	List   []domain.Account `yaml:"list" validate:"dive"`
}

// Load reads and parses the configuration file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Grab.BaseURL == "" {
		cfg.Grab.BaseURL = "https://api.grab.com/food/merchant"
	}
	if cfg.Grab.TimeoutSeconds == 0 {
		cfg.Grab.TimeoutSeconds = 60
	}
	if cfg.Grab.RequestsPerSecond == 0 {
		cfg.Grab.RequestsPerSecond = 2
	}
	if cfg.Gojek.BaseURL == "" {
		cfg.Gojek.BaseURL = "https://api.gobiz.co.id"
	}
	if cfg.Gojek.TimeoutSeconds == 0 {
		cfg.Gojek.TimeoutSeconds = 60
	}
	if cfg.Gojek.RequestsPerSecond == 0 {
		cfg.Gojek.RequestsPerSecond = 2
	}
	c := &cfg.Collector
	if c.MissingStreakLimit == 0 {
		c.MissingStreakLimit = 10
	}
	if c.ErrorStreakLimit == 0 {
		c.ErrorStreakLimit = 5
	}
	if c.TransientRetryCap == 0 {
		c.TransientRetryCap = 3
	}
	if c.ParallelAccounts == 0 {
		c.ParallelAccounts = 1
	}
	if c.RecentDays == 0 {
		c.RecentDays = 7
	}
	if c.HistoryPeriodMonths == 0 {
		c.HistoryPeriodMonths = 1
	}
	if c.HistoryMaxPeriods == 0 {
		c.HistoryMaxPeriods = 120
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Redis.MirrorTTLHours == 0 {
		cfg.Redis.MirrorTTLHours = 24 * 30
	}
	if cfg.Storage.Credentials == "" {
		cfg.Storage.Credentials = StoreFile
	}
	if cfg.Storage.StatePath == "" {
		cfg.Storage.StatePath = "data/credentials.yaml"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "ap-southeast-1"
	}
	if cfg.Export.TimeoutSeconds == 0 {
		cfg.Export.TimeoutSeconds = 30
	}
	if cfg.Export.BatchDays == 0 {
		cfg.Export.BatchDays = 90
	}
	if cfg.Export.BatchAccounts == 0 {
		cfg.Export.BatchAccounts = 50
	}
	if cfg.Export.ArchivePrefix == "" {
		cfg.Export.ArchivePrefix = "export-batches"
	}
	if cfg.Accounts.Source == "" {
		cfg.Accounts.Source = AccountsFromYAML
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads envFiles (default .env, missing files ignored) first, so
// secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("GRAB_BASE_URL"); v != "" {
		cfg.Grab.BaseURL = v
	}
	if v := os.Getenv("GOJEK_BASE_URL"); v != "" {
		cfg.Gojek.BaseURL = v
	}
	if v := os.Getenv("EXPORT_ENDPOINT"); v != "" {
		cfg.Export.Endpoint = v
	}
	if v := os.Getenv("EXPORT_API_KEY"); v != "" {
		cfg.Export.APIKey = v
	}
	if v := os.Getenv("SNOWFLAKE_CONNECTION_STRING"); v != "" {
		cfg.Export.Snowflake.ConnectionString = v
	}
	if v := os.Getenv("STORAGE_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AWSAccessKeyID = v
	}
	if v := os.Getenv("STORAGE_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.AWSSecretAccessKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ACCOUNTS_JSON")); v != "" {
		var accts []domain.Account
		if err := json.Unmarshal([]byte(v), &accts); err != nil {
			return nil, fmt.Errorf("parse ACCOUNTS_JSON: %w", err)
		}
		cfg.Accounts.Source = AccountsFromEnv
		cfg.Accounts.List = accts
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration values. Accounts read from the database
// are checked by ResolveAccounts.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Storage.Credentials == StorePostgres && cfg.Database.URL == "" {
		return errors.New("invalid config: storage.credentials=postgres requires database.url")
	}
	if cfg.Accounts.Source == AccountsFromPostgres && cfg.Database.URL == "" {
		return errors.New("invalid config: accounts.source=postgres requires database.url")
	}
	if cfg.Storage.Credentials == StoreDynamoDB && cfg.Storage.DynamoDBTable == "" {
		return errors.New("invalid config: storage.credentials=dynamodb requires storage.dynamodb_table")
	}
	if cfg.Export.Archive && cfg.Storage.S3Bucket == "" {
		return errors.New("invalid config: export.archive requires storage.s3_bucket")
	}
	if _, err := cfg.Gojek.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// AccountLister reads accounts from the database.
type AccountLister interface {
	ListActive(ctx context.Context) ([]domain.Account, error)
}

// ResolveAccounts returns the validated account list from the configured
// source. lister is only used for accounts.source=postgres.
func (cfg *Config) ResolveAccounts(ctx context.Context, lister AccountLister) ([]domain.Account, error) {
	accts := cfg.Accounts.List
	if cfg.Accounts.Source == AccountsFromPostgres {
		if lister == nil {
			return nil, errors.New("accounts.source=postgres but no database is configured")
		}
		var err error
		if accts, err = lister.ListActive(ctx); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
	}
	if err := ValidateAccounts(accts); err != nil {
		return nil, err
	}
	return accts, nil
}

// ValidateAccounts checks every account and rejects an empty list or
// duplicate ids.
func ValidateAccounts(accts []domain.Account) error {
	if len(accts) == 0 {
		return ErrNoAccounts
	}
	seen := make(map[string]bool, len(accts))
	for i, a := range accts {
		if err := validate.Struct(a); err != nil {
			return fmt.Errorf("account %d (%q): %w", i, a.ID, err)
		}
		if seen[a.ID] {
			return fmt.Errorf("account %q configured twice", a.ID)
		}
		seen[a.ID] = true
		if len(a.ConfiguredPlatforms()) == 0 {
			return fmt.Errorf("account %q has no platform configured", a.ID)
		}
	}
	return nil
}
