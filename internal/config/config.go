// Package config loads marketd settings from YAML files and MARKETD_
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MARKETD_SERVER_ADDR.
const EnvPrefix = "MARKETD"

type Config struct {
	LogLevel string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	Market   MarketConfig  `mapstructure:"market" yaml:"market"`
	Server   ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage  StorageConfig `mapstructure:"storage" yaml:"storage"`
	Ledger   LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Auth     AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Events   EventsConfig  `mapstructure:"events" yaml:"events"`
	Tracing  TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// MarketConfig identifies the marketplace instance. When PaymentAsset is set
// the daemon initializes an uninitialized marketplace on start.
type MarketConfig struct {
	Address      string `mapstructure:"address" yaml:"address" validate:"required"`
	PaymentAsset string `mapstructure:"payment_asset" yaml:"payment_asset"`
	Admin        string `mapstructure:"admin" yaml:"admin" validate:"required_with=PaymentAsset"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

type StorageConfig struct {
	Driver        string        `mapstructure:"driver" yaml:"driver" validate:"oneof=memory badger redis etcd"`
	BadgerPath    string        `mapstructure:"badger_path" yaml:"badger_path"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints" yaml:"etcd_endpoints" validate:"required_if=Driver etcd"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

type LedgerConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN          string `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig selects the proof scheme. The default is jwt. "recorder" trusts
// the claimed identity and has to be chosen explicitly for development.
type AuthConfig struct {
	Scheme    string        `mapstructure:"scheme" yaml:"scheme" validate:"oneof=recorder jwt evm"`
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required_if=Scheme jwt"`
	Issuer    string        `mapstructure:"issuer" yaml:"issuer"`
	ProofTTL  time.Duration `mapstructure:"proof_ttl" yaml:"proof_ttl" validate:"gt=0"`

	// NonceRedisAddr shares replay protection between replicas when set.
	NonceRedisAddr string `mapstructure:"nonce_redis_addr" yaml:"nonce_redis_addr"`
}

type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic" yaml:"kafka_topic" validate:"required_with=KafkaBrokers"`
	ReplaySize   int      `mapstructure:"replay_size" yaml:"replay_size" validate:"gte=0"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("market.address", "lotmarket")
	v.SetDefault("market.payment_asset", "")
	v.SetDefault("market.admin", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.badger_path", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.etcd_endpoints", []string{})
	v.SetDefault("storage.dial_timeout", 5*time.Second)
	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.max_open_conns", 20)
	v.SetDefault("ledger.max_idle_conns", 5)
	v.SetDefault("auth.scheme", "jwt")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "lotmarket")
	v.SetDefault("auth.proof_ttl", 5*time.Minute)
	v.SetDefault("auth.nonce_redis_addr", "")
	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.kafka_topic", "lotmarket.events")
	v.SetDefault("events.replay_size", 1024)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "marketd")
}

// Load merges defaults, every existing file in paths (in order) and the
// environment, then validates the result.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

const redacted = "<redacted>"

// Dump renders cfg as YAML with secrets masked.
func Dump(cfg *Config) ([]byte, error) {
	c := *cfg
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = redacted
	}
	if c.Storage.RedisPassword != "" {
		c.Storage.RedisPassword = redacted
	}
	out, err := yaml.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
