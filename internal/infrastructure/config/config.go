package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/billingkit/entitlements/internal/domain/catalog"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Verification  VerificationConfig  `mapstructure:"verification"`
	Signing       SigningConfig       `mapstructure:"signing"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// BillingConfig drives the connection supervisor and the reconcile loop.
type BillingConfig struct {
	MaxConnectionRetries int           `mapstructure:"max_connection_retries"`
	BaseRetryDelay       time.Duration `mapstructure:"base_retry_delay"`
	ConnectionGraceDelay time.Duration `mapstructure:"connection_grace_delay"`
	ReconcileInterval    time.Duration `mapstructure:"reconcile_interval"`
}

// VerificationConfig drives the remote verification server client and the
// throttle gate that bounds calls to it.
type VerificationConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	ThrottleDeadBand        time.Duration `mapstructure:"throttle_dead_band"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

// SigningConfig configures purchase signature verification.
type SigningConfig struct {
	PublicKey string `mapstructure:"public_key"` // base64 DER (PKIX)
	Hash      string `mapstructure:"hash"`       // "sha1" or "sha256"
}

// CatalogConfig is the static product configuration. Empty slices fall
// back to the built-in defaults.
type CatalogConfig struct {
	OneTimeProducts        []string       `mapstructure:"one_time_products"`
	SubscriptionProducts   []string       `mapstructure:"subscription_products"`
	ConsumableProducts     []string       `mapstructure:"consumable_products"`
	MutuallyExclusiveGroup []string       `mapstructure:"mutually_exclusive_group"`
	ConsumableIncrements   map[string]int `mapstructure:"consumable_increments"`
	ConsumableCaps         map[string]int `mapstructure:"consumable_caps"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ENTITLEMENTS")
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/entitlements")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Billing.MaxConnectionRetries <= 0 {
		errs = append(errs, fmt.Errorf("billing.max_connection_retries must be positive"))
	}
	if c.Billing.BaseRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("billing.base_retry_delay must be positive"))
	}
	if c.Billing.ConnectionGraceDelay <= 0 {
		errs = append(errs, fmt.Errorf("billing.connection_grace_delay must be positive"))
	}
	if c.Verification.ThrottleDeadBand <= 0 {
		errs = append(errs, fmt.Errorf("verification.throttle_dead_band must be positive"))
	}
	if c.Signing.Hash != "" && c.Signing.Hash != "sha1" && c.Signing.Hash != "sha256" {
		errs = append(errs, fmt.Errorf("signing.hash must be sha1 or sha256, got %q", c.Signing.Hash))
	}
	for product, inc := range c.Catalog.ConsumableIncrements {
		if inc <= 0 {
			errs = append(errs, fmt.Errorf("catalog.consumable_increments[%s] must be positive", product))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit_per_min", 60)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "entitlements")
	v.SetDefault("database.database", "entitlements")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Billing defaults
	v.SetDefault("billing.max_connection_retries", 5)
	v.SetDefault("billing.base_retry_delay", "500ms")
	v.SetDefault("billing.connection_grace_delay", "2s")
	v.SetDefault("billing.reconcile_interval", "15m")

	// Verification defaults
	v.SetDefault("verification.base_url", "http://localhost:9090")
	v.SetDefault("verification.request_timeout", "10s")
	v.SetDefault("verification.max_retries", 3)
	v.SetDefault("verification.retry_delay", "1s")
	v.SetDefault("verification.throttle_dead_band", "2h")
	v.SetDefault("verification.circuit_breaker_threshold", 10)
	v.SetDefault("verification.circuit_breaker_timeout", "30s")

	// Signing defaults
	v.SetDefault("signing.hash", "sha1")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Instance ID
	v.SetDefault("instance_id", "entitlements-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCatalog converts the configured product sets into the domain catalog.
// An entirely empty section falls back to the built-in default catalog.
func (c *CatalogConfig) ToCatalog() catalog.Catalog {
	if len(c.OneTimeProducts) == 0 && len(c.SubscriptionProducts) == 0 {
		return catalog.Default()
	}
	return catalog.Catalog{
		OneTimeProducts:        c.OneTimeProducts,
		SubscriptionProducts:   c.SubscriptionProducts,
		ConsumableProducts:     c.ConsumableProducts,
		MutuallyExclusiveGroup: c.MutuallyExclusiveGroup,
		ConsumableIncrements:   c.ConsumableIncrements,
		ConsumableCaps:         c.ConsumableCaps,
	}
}
