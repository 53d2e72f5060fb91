// Package config loads the service configuration from file and
// environment via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	// Driver selects the gorm dialect, "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	RequestTopic  string   `mapstructure:"request_topic"`
	ResponseTopic string   `mapstructure:"response_topic"`
	GroupID       string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type OracleConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	GasPrice uint64 `mapstructure:"gas_price"`
}

type FeesConfig struct {
	BasisPoints int64  `mapstructure:"basis_points"`
	Recipient   string `mapstructure:"recipient"`
}

type AdminConfig struct {
	Capability string `mapstructure:"capability"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file (optional) and the
// COINVEST_* environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("kafka.request_topic", "oracle.price.requests")
	v.SetDefault("kafka.response_topic", "oracle.price.responses")
	v.SetDefault("kafka.group_id", "coinvest-settlement")
	v.SetDefault("oracle.base_url", "https://min-api.cryptocompare.com/data/pricemulti")
	v.SetDefault("oracle.gas_price", uint64(20000000000))
	v.SetDefault("fees.basis_points", int64(300))
	v.SetDefault("logging.level", "info")
	v.SetDefault("redis.enabled", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Fees.BasisPoints < 0 || c.Fees.BasisPoints > 10000 {
		return fmt.Errorf("fees.basis_points %d out of range [0,10000]", c.Fees.BasisPoints)
	}
	if c.Admin.Capability != "" {
		if _, err := uuid.Parse(c.Admin.Capability); err != nil {
			return fmt.Errorf("admin.capability is not a uuid: %w", err)
		}
	}
	if c.Fees.Recipient != "" {
		if _, err := uuid.Parse(c.Fees.Recipient); err != nil {
			return fmt.Errorf("fees.recipient is not a uuid: %w", err)
		}
	}
	return nil
}
