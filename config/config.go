package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Environment
	Env string `mapstructure:"env"`

	// HTTP server
	Server ServerConfig `mapstructure:"server"`

	// Logging
	Log LogConfig `mapstructure:"log"`

	// Database driver selection
	Database DatabaseConfig `mapstructure:"database"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Push lifecycle
	Pushes PushConfig `mapstructure:"pushes"`

	// Background sweeper
	Sweeper SweeperConfig `mapstructure:"sweeper"`

	// Secrets used for encryption and signing
	Security SecurityConfig `mapstructure:"security"`

	// Attachment storage
	Blob BlobConfig `mapstructure:"blob"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	BaseURL      string        `mapstructure:"base_url"`
	BodyLimit    int           `mapstructure:"body_limit"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Encoding   string `mapstructure:"encoding"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`
	// SQLitePath is used when Driver is "sqlite".
	SQLitePath string `mapstructure:"sqlite_path"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PushConfig holds the defaults and limits applied when a push is created.
type PushConfig struct {
	ExpireAfterDaysDefault  int   `mapstructure:"expire_after_days_default"`
	ExpireAfterDaysMax      int   `mapstructure:"expire_after_days_max"`
	ExpireAfterViewsDefault int   `mapstructure:"expire_after_views_default"`
	ExpireAfterViewsMax     int   `mapstructure:"expire_after_views_max"`
	DeletableByViewer       bool  `mapstructure:"deletable_by_viewer_default"`
	RetrievalStep           bool  `mapstructure:"retrieval_step_default"`
	MaxPayloadBytes         int   `mapstructure:"max_payload_bytes"`
	MaxNoteBytes            int   `mapstructure:"max_note_bytes"`
	MaxFiles                int   `mapstructure:"max_files"`
	MaxFileBytes            int64 `mapstructure:"max_file_bytes"`
	EnableFiles             bool  `mapstructure:"enable_files"`
	EnableURLs              bool  `mapstructure:"enable_urls"`
	EnableQR                bool  `mapstructure:"enable_qr"`
	// TokenFilter enables the in-process bloom filter for unknown tokens.
	// Only safe when a single instance writes to the database.
	TokenFilter bool `mapstructure:"token_filter"`
	// FileLinkTTL bounds signed download links and delays blob purge after expiry.
	FileLinkTTL time.Duration `mapstructure:"file_link_ttl"`
	// RetrievalTTL bounds the continuation token issued by the retrieval step.
	RetrievalTTL time.Duration `mapstructure:"retrieval_ttl"`
}

type SweeperConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Interval            time.Duration `mapstructure:"interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	PurgeAnonymousAfter time.Duration `mapstructure:"purge_anonymous_after"`
}

type SecurityConfig struct {
	// MasterKey is a hex-encoded 32 byte key used for payload encryption.
	MasterKey string `mapstructure:"master_key"`
	// TokenSecret signs retrieval-step and file download tokens.
	TokenSecret string `mapstructure:"token_secret"`
}

type BlobConfig struct {
	Dir string `mapstructure:"dir"`
}

// IsDevelopment reports whether the service runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// MasterKeyBytes decodes the configured encryption key.
func (c SecurityConfig) MasterKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would let pushes be created with
// unusable limits or without key material.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres":
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	p := c.Pushes
	if p.ExpireAfterDaysMax < 1 || p.ExpireAfterDaysDefault < 1 || p.ExpireAfterDaysDefault > p.ExpireAfterDaysMax {
		errs = append(errs, errors.New("pushes: expire_after_days default must be within 1..max"))
	}
	if p.ExpireAfterViewsMax < 1 || p.ExpireAfterViewsDefault < 1 || p.ExpireAfterViewsDefault > p.ExpireAfterViewsMax {
		errs = append(errs, errors.New("pushes: expire_after_views default must be within 1..max"))
	}
	if p.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("pushes.max_payload_bytes must be positive"))
	}
	if p.EnableFiles && (p.MaxFiles <= 0 || p.MaxFileBytes <= 0) {
		errs = append(errs, errors.New("pushes: file limits must be positive when files are enabled"))
	}

	if _, err := c.Security.MasterKeyBytes(); err != nil {
		errs = append(errs, fmt.Errorf("security.master_key: %w", err))
	}
	if len(c.Security.TokenSecret) < 16 {
		errs = append(errs, errors.New("security.token_secret must be at least 16 characters"))
	}

	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.body_limit", 16*1024*1024)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_window", "1m")

	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "powerpush.db")

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.port", 6379)

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.port", 4222)

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("pushes.expire_after_days_default", 7)
	v.SetDefault("pushes.expire_after_days_max", 90)
	v.SetDefault("pushes.expire_after_views_default", 5)
	v.SetDefault("pushes.expire_after_views_max", 100)
	v.SetDefault("pushes.deletable_by_viewer_default", true)
	v.SetDefault("pushes.retrieval_step_default", false)
	v.SetDefault("pushes.max_payload_bytes", 1024*1024)
	v.SetDefault("pushes.max_note_bytes", 4096)
	v.SetDefault("pushes.max_files", 10)
	v.SetDefault("pushes.max_file_bytes", 10*1024*1024)
	v.SetDefault("pushes.enable_files", true)
	v.SetDefault("pushes.enable_urls", true)
	v.SetDefault("pushes.enable_qr", true)
	v.SetDefault("pushes.token_filter", false)
	v.SetDefault("pushes.file_link_ttl", "15m")
	v.SetDefault("pushes.retrieval_ttl", "10m")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.batch_size", 200)
	v.SetDefault("sweeper.purge_anonymous_after", "0s")

	v.SetDefault("blob.dir", "./data/blobs")
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("env", "APP_ENV")

	// HTTP server
	v.BindEnv("server.addr", "HTTP_ADDR")
	v.BindEnv("server.base_url", "BASE_URL")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "LOG_FILE")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.sqlite_path", "SQLITE_PATH")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.enabled", "NATS_ENABLED")
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.enabled", "PROM_ENABLED")
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Security
	v.BindEnv("security.master_key", "PWP_MASTER_KEY")
	v.BindEnv("security.token_secret", "PWP_TOKEN_SECRET")

	// Blob storage
	v.BindEnv("blob.dir", "BLOB_DIR")
}
