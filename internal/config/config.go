package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "STOREFRONT"

// Backend kinds
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Feed kinds. FeedMemory only reaches subscribers inside this process, whose
// stores all publish under the same source, so it is meant for tests and
// local tooling; multi-instance deployments use redis or kafka.
const (
	FeedNone   = "none"
	FeedMemory = "memory"
	FeedRedis  = "redis"
	FeedKafka  = "kafka"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Cart     CartConfig     `mapstructure:"cart"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Session  SessionConfig  `mapstructure:"session"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// CartConfig names the storage: Database is the logical database, ObjectStore
// the line item table inside it.
type CartConfig struct {
	Backend     string `mapstructure:"backend"`
	Database    string `mapstructure:"database"`
	ObjectStore string `mapstructure:"object_store"`
	// IdleTimeout is how long an unused cart stays loaded in memory.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DynamoDBConfig struct {
	Table    string `mapstructure:"table"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type FeedConfig struct {
	Kind string `mapstructure:"kind"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// GroupID defaults to a per-process group so every instance sees every change.
	GroupID string `mapstructure:"group_id"`
}

type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// APIConfig points at the external storefront API receiving orders.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads defaults, the optional config file at path (YAML) and
// STOREFRONT_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Cart.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" || c.DynamoDB.Region == "" {
			return fmt.Errorf("dynamodb.table and dynamodb.region are required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown cart.backend %q", c.Cart.Backend)
	}

	if c.Cart.Database == "" || c.Cart.ObjectStore == "" {
		return fmt.Errorf("cart.database and cart.object_store are required")
	}
	if c.Cart.IdleTimeout <= 0 {
		return fmt.Errorf("invalid cart.idle_timeout: %s", c.Cart.IdleTimeout)
	}

	switch c.Feed.Kind {
	case FeedNone, FeedMemory:
	case FeedRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis feed")
		}
	case FeedKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required for the kafka feed")
		}
	default:
		return fmt.Errorf("unknown feed.kind %q", c.Feed.Kind)
	}

	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 characters")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("invalid session.ttl: %s", c.Session.TTL)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("cart.backend", BackendMemory)
	v.SetDefault("cart.database", "medsupply")
	v.SetDefault("cart.object_store", "cart_items")
	v.SetDefault("cart.idle_timeout", 30*time.Minute)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("dynamodb.table", "cart-items")
	v.SetDefault("dynamodb.region", "ap-northeast-1")
	v.SetDefault("dynamodb.endpoint", "")

	v.SetDefault("feed.kind", FeedNone)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "cart-changes")
	v.SetDefault("kafka.group_id", "")

	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", 30*24*time.Hour)

	v.SetDefault("api.base_url", "http://localhost:9000/api")
	v.SetDefault("api.timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
