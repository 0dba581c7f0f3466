package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/closeness/sweeper/internal/kms"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backend names accepted in storage.backends.
const (
	BackendSupabase = "supabase"
	BackendS3       = "s3"
	BackendFS       = "fs"
)

// encPrefix marks a secret that must be decrypted with the KMS master key.
const encPrefix = "enc:"

// Config holds the full application configuration loaded from env / config file.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Authority     AuthorityConfig     `mapstructure:"authority"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Supabase      SupabaseConfig      `mapstructure:"supabase"`
	S3            S3Config            `mapstructure:"s3"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Operator      OperatorConfig      `mapstructure:"operator"`
	KMS           KMSConfig           `mapstructure:"kms"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`  // development | production
	Port    int    `mapstructure:"port"` // operator API port
	Version string `mapstructure:"version"`
}

// AuthorityConfig points at the application API that owns pending-deletion bookkeeping.
type AuthorityConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"` // sent as X-Cleanup-API-Key
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type StorageConfig struct {
	// Backends are deleted from in order; more than one means every backend
	// must confirm the delete (used while migrating providers).
	Backends       []string      `mapstructure:"backends"`
	FSRoot         string        `mapstructure:"fs_root"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// DeleteRPS throttles per-object deletes. 0 disables throttling.
	DeleteRPS float64 `mapstructure:"delete_rps"`
}

type SupabaseConfig struct {
	URL    string `mapstructure:"url"`
	Key    string `mapstructure:"key"`
	Bucket string `mapstructure:"bucket"`
}

// S3Config holds credentials for an S3-compatible provider.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	// ForcePathStyle must be true for Garage / MinIO
	ForcePathStyle bool `mapstructure:"force_path_style"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"` // empty disables run history
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	// Schedule is the asynq cron spec used by `worker serve`.
	Schedule string `mapstructure:"schedule"`
	// Interval drives the in-process ticker used by `worker loop`.
	Interval time.Duration `mapstructure:"interval"`
	// CycleTimeout bounds one whole cycle.
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	// UniqueTTL keeps a queued cleanup task unique so ticks do not overlap.
	UniqueTTL   time.Duration `mapstructure:"unique_ttl"`
	Concurrency int           `mapstructure:"concurrency"`
	MetricsPort int           `mapstructure:"metrics_port"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// OperatorConfig holds the bcrypt hash of the operator API key and the
// per-operator budget for manual run triggers.
type OperatorConfig struct {
	APIKeyHash   string  `mapstructure:"api_key_hash"`
	TriggerRPS   float64 `mapstructure:"trigger_rps"`
	TriggerBurst int     `mapstructure:"trigger_burst"`
}

type KMSConfig struct {
	Key string `mapstructure:"key"`
}

type NotificationsConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

// Load reads configuration from an optional .env file, an optional config
// file and environment variables (in increasing precedence).
// Environment variable prefix: SWEEPER_
// Example: SWEEPER_AUTHORITY_BASE_URL=https://api.example.com.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}

	v := viper.New()

	// ---------- defaults ----------
	v.SetDefault("app.name", "sweeper")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.version", "0.3.0")

	v.SetDefault("authority.base_url", "")
	v.SetDefault("authority.api_key", "")
	v.SetDefault("authority.request_timeout", "30s")

	v.SetDefault("storage.backends", []string{BackendSupabase})
	v.SetDefault("storage.fs_root", "./data/uploads")
	v.SetDefault("storage.request_timeout", "30s")
	v.SetDefault("storage.delete_rps", 0)

	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.key", "")
	v.SetDefault("supabase.bucket", "uploads")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", true)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")

	v.SetDefault("worker.schedule", "@every 5m")
	v.SetDefault("worker.interval", "5m")
	v.SetDefault("worker.cycle_timeout", "4m")
	v.SetDefault("worker.unique_ttl", "5m")
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.metrics_port", 9090)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration", "24h")
	v.SetDefault("operator.api_key_hash", "")
	v.SetDefault("operator.trigger_rps", 0.1)
	v.SetDefault("operator.trigger_burst", 2)
	v.SetDefault("kms.key", "")
	v.SetDefault("notifications.slack_webhook_url", "")

	// ---------- config file (optional) ----------
	v.SetConfigName("sweeper")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sweeper")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	// ---------- env vars ----------
	v.SetEnvPrefix("SWEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// decryptSecrets replaces every enc:-prefixed secret with its plaintext.
func (c *Config) decryptSecrets() error {
	secrets := map[string]*string{
		"authority.api_key":    &c.Authority.APIKey,
		"supabase.key":         &c.Supabase.Key,
		"s3.secret_access_key": &c.S3.SecretAccessKey,
		"database.dsn":         &c.Database.DSN,
		"redis.password":       &c.Redis.Password,
		"jwt.secret":           &c.JWT.Secret,
	}

	var enc *kms.Encryptor
	for name, val := range secrets {
		if !strings.HasPrefix(*val, encPrefix) {
			continue
		}
		if enc == nil {
			if c.KMS.Key == "" {
				return fmt.Errorf("config: %s is encrypted but kms.key is not set", name)
			}
			var err error
			enc, err = kms.New(c.KMS.Key)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
		}
		plain, err := enc.Decrypt(strings.TrimPrefix(*val, encPrefix))
		if err != nil {
			return fmt.Errorf("config: decrypt %s: %w", name, err)
		}
		*val = plain
	}
	return nil
}

// ValidateWorker checks the settings a reconciliation cycle cannot run without.
func (c *Config) ValidateWorker() error {
	if c.Authority.BaseURL == "" {
		return errors.New("config: authority.base_url is required")
	}
	if c.Authority.APIKey == "" {
		return errors.New("config: authority.api_key is required")
	}
	if len(c.Storage.Backends) == 0 {
		return errors.New("config: storage.backends must name at least one backend")
	}
	for _, b := range c.Storage.Backends {
		switch b {
		case BackendSupabase:
			if c.Supabase.URL == "" || c.Supabase.Key == "" {
				return errors.New("config: supabase.url and supabase.key are required for the supabase backend")
			}
		case BackendS3:
			if c.S3.Bucket == "" {
				return errors.New("config: s3.bucket is required for the s3 backend")
			}
		case BackendFS:
			if c.Storage.FSRoot == "" {
				return errors.New("config: storage.fs_root is required for the fs backend")
			}
		default:
			return fmt.Errorf("config: unknown storage backend %q", b)
		}
	}
	if c.Worker.CycleTimeout <= 0 {
		return errors.New("config: worker.cycle_timeout must be positive")
	}
	if c.Storage.DeleteRPS < 0 {
		return errors.New("config: storage.delete_rps must not be negative")
	}
	return nil
}

// ValidateAPI checks that the operator API has at least one way to authenticate callers.
func (c *Config) ValidateAPI() error {
	if c.JWT.Secret == "" && c.Operator.APIKeyHash == "" {
		return errors.New("config: jwt.secret or operator.api_key_hash is required")
	}
	return nil
}
