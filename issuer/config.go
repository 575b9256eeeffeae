package issuer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

// Config is a configuration for the issuer application
type Config struct {
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// RepoBackend selects the card store: "pg" for runtime, "mem" only when
	// AllowMemBackend is set (tests, local demos).
	RepoBackend     string `mapstructure:"repo_backend" validate:"oneof=pg mem"`
	AllowMemBackend bool   `mapstructure:"allow_mem_backend"`
	// DBDriver is the database/sql driver name: "postgres" (lib/pq) or "pgx".
	DBDriver string `mapstructure:"db_driver" validate:"oneof=postgres pgx"`
	DBDSN    string `mapstructure:"db_dsn" validate:"required_if=RepoBackend pg"`
	// MigrateOnStart applies embedded migrations before serving.
	MigrateOnStart bool `mapstructure:"migrate_on_start"`

	// ExpiryTZ is an IANA timezone name for expiry computations (e.g., "Australia/Sydney").
	ExpiryTZ string `mapstructure:"expiry_tz"`
	// MaxIssueAttempts bounds card number regeneration on collisions.
	MaxIssueAttempts int `mapstructure:"max_issue_attempts" validate:"min=1,max=50"`

	// PANHashKey keys the HMAC used for card number cache keys.
	PANHashKey string `mapstructure:"pan_hash_key" validate:"required"`
	// RedisAddr enables the card cache when set.
	RedisAddr string        `mapstructure:"redis_addr"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" validate:"min=0"`

	// KafkaBrokers enables lifecycle events when set.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic" validate:"required_with=KafkaBrokers"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:         "localhost:9090",
		LogLevel:         "info",
		RepoBackend:      "pg",
		DBDriver:         "postgres",
		MigrateOnStart:   true,
		ExpiryTZ:         "UTC",
		MaxIssueAttempts: defaultMaxIssueAttempts,
		PANHashKey:       "dev-secret-pepper",
		CacheTTL:         5 * time.Minute,
		KafkaTopic:       "card-events",
	}
}

var validate = validator.New()

// LoadConfig reads configuration from an optional YAML file and from
// CARDFLOW_* environment variables, which take precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("repo_backend", def.RepoBackend)
	v.SetDefault("allow_mem_backend", def.AllowMemBackend)
	v.SetDefault("db_driver", def.DBDriver)
	v.SetDefault("db_dsn", def.DBDSN)
	v.SetDefault("migrate_on_start", def.MigrateOnStart)
	v.SetDefault("expiry_tz", def.ExpiryTZ)
	v.SetDefault("max_issue_attempts", def.MaxIssueAttempts)
	v.SetDefault("pan_hash_key", def.PANHashKey)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("cache_ttl", def.CacheTTL)
	v.SetDefault("kafka_brokers", def.KafkaBrokers)
	v.SetDefault("kafka_topic", def.KafkaTopic)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CARDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.RepoBackend == "mem" && !c.AllowMemBackend {
		return fmt.Errorf("invalid config: mem repository is disabled at runtime; set allow_mem_backend only in tests")
	}
	if c.ExpiryTZ != "" {
		if _, err := time.LoadLocation(c.ExpiryTZ); err != nil {
			return fmt.Errorf("invalid config: expiry_tz: %w", err)
		}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
