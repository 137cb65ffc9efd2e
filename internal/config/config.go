// Package config loads service settings from defaults, an optional file and
// ECOCREDIT_* environment variables, in increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "ECOCREDIT"

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Events     EventsConfig     `mapstructure:"events"`
	Log        LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	GRPCAddr          string        `mapstructure:"grpc_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	RateBurst         int           `mapstructure:"rate_burst"`
	RatePerSecond     int           `mapstructure:"rate_per_second"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// StorageConfig selects where accounts, actions and the catalog live: memory or postgres.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// RegistryConfig selects the fingerprint registry: store (same as storage),
// memory, redis, sqlite or remote.
type RegistryConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RemoteURL     string        `mapstructure:"remote_url"`
	RemoteToken   string        `mapstructure:"remote_token"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

// EvidenceConfig selects the evidence store: none, file, s3 or gcs.
type EvidenceConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	BaseURL   string `mapstructure:"base_url"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	Prefix    string `mapstructure:"prefix"`
	PublicURL string `mapstructure:"public_url"`
}

type ExtractionConfig struct {
	OCRURL        string        `mapstructure:"ocr_url"`
	ClassifierURL string        `mapstructure:"classifier_url"`
	TesseractPath string        `mapstructure:"tesseract_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Secret          string        `mapstructure:"secret"`
	AllowDevTokens  bool          `mapstructure:"allow_dev_tokens"`
	AdminIdentities []string      `mapstructure:"admin_identities"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
}

type PipelineConfig struct {
	AutoApprove []string `mapstructure:"auto_approve"`
}

// EventsConfig enables forwarding domain events to NATS when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.grpc_addr", ":9090")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 12<<20)
	v.SetDefault("http.rate_burst", 50)
	v.SetDefault("http.rate_per_second", 20)
	v.SetDefault("http.allowed_origins", []string{})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("storage.backend", "memory")

	v.SetDefault("registry.backend", "store")
	v.SetDefault("registry.redis_addr", "localhost:6379")
	v.SetDefault("registry.redis_password", "")
	v.SetDefault("registry.redis_db", 0)
	v.SetDefault("registry.redis_prefix", "ecocredit:")
	v.SetDefault("registry.sqlite_path", "bills.db")
	v.SetDefault("registry.remote_url", "")
	v.SetDefault("registry.remote_token", "")
	v.SetDefault("registry.remote_timeout", 5*time.Second)

	v.SetDefault("evidence.backend", "file")
	v.SetDefault("evidence.dir", "data/evidence")
	v.SetDefault("evidence.base_url", "/evidence")
	v.SetDefault("evidence.bucket", "")
	v.SetDefault("evidence.region", "us-east-1")
	v.SetDefault("evidence.endpoint", "")
	v.SetDefault("evidence.prefix", "evidence/")
	v.SetDefault("evidence.public_url", "")

	v.SetDefault("extraction.ocr_url", "")
	v.SetDefault("extraction.classifier_url", "")
	v.SetDefault("extraction.tesseract_path", "")
	v.SetDefault("extraction.timeout", 30*time.Second)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.allow_dev_tokens", false)
	v.SetDefault("auth.admin_identities", []string{"admin@carbon.com"})
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("pipeline.auto_approve", []string{})

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "ecocredit.events")

	v.SetDefault("log.level", "info")
}

// Load reads configuration. file may be empty; a missing file is not an error
// when file is empty, but an explicitly named file must exist.
func Load(ctx context.Context, file string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("ecocredit")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ecocredit")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend names and the settings each backend needs.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("config: database.dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Registry.Backend {
	case "store", "memory", "redis", "sqlite":
	case "remote":
		if c.Registry.RemoteURL == "" {
			return errors.New("config: registry.remote_url is required for the remote registry")
		}
	default:
		return fmt.Errorf("config: unknown registry.backend %q", c.Registry.Backend)
	}
	switch c.Evidence.Backend {
	case "none", "file":
	case "s3", "gcs":
		if c.Evidence.Bucket == "" {
			return fmt.Errorf("config: evidence.bucket is required for %s", c.Evidence.Backend)
		}
	default:
		return fmt.Errorf("config: unknown evidence.backend %q", c.Evidence.Backend)
	}
	return nil
}
