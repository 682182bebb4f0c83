package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Authz    AuthzConfig
	Logging  LoggingConfig
	Kafka    KafkaConfig
	Outbox   OutboxRelayConfig
}

type ServerConfig struct {
	HTTPPort     int             `mapstructure:"http_port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Rate    string `mapstructure:"rate"`    // ulule/limiter format, e.g. "100-S"
	Storage string `mapstructure:"storage"` // memory or redis
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogQueries   bool   `mapstructure:"log_queries"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// AuthzConfig lists "ROLE,PERMISSION" policy lines. An empty list means the
// built-in defaults.
type AuthzConfig struct {
	Policies []string `mapstructure:"policies"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // json or console
	ServiceName string `mapstructure:"service_name"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	ClientID   string   `mapstructure:"client_id"`
	EventTopic string   `mapstructure:"event_topic"`
	DLQTopic   string   `mapstructure:"dlq_topic"`
}

type OutboxRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

var envFiles = []string{".env", ".env.local"}

func Load() (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/dealflow/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DEALFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rate", "100-S")
	v.SetDefault("server.rate_limit.storage", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "dealflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "dealflow")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service_name", "dealflow")
	v.SetDefault("kafka.client_id", "dealflow-outbox-relay")
	v.SetDefault("kafka.event_topic", "dealflow.crm.events")
	v.SetDefault("kafka.dlq_topic", "dealflow.crm.events.dlq")
	v.SetDefault("outbox.poll_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)
}

// loadEnvFiles loads whichever of the given dotenv files exist. Variables
// already present in the environment win.
func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
