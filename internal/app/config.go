package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config is the API server configuration, loaded from MARKET_ environment
// variables, flags and YAML files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Timezone     string `default:"UTC" usage:"IANA zone merchant opening hours are evaluated in"`
	Checkout     CheckoutConfig
	Sweep        SweepConfig
	Redis        RedisConfig
	AMQP         AMQPConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CheckoutConfig controls order submission.
type CheckoutConfig struct {
	AtomicRedemption bool          `default:"true" usage:"Record coupon usage inside the order transaction" flag:"atomic-redemption"`
	LockTTL          time.Duration `default:"30s"  usage:"How long a submission holds its idempotency lock" flag:"lock-ttl"`
	StrictStatus     bool          `default:"true" usage:"Only allow status changes along the order lifecycle" flag:"strict-status"`
}

// SweepConfig controls the background opening hours sweep.
type SweepConfig struct {
	Interval    time.Duration `default:"0s" usage:"Sweep interval, 0 disables the background sweep" flag:"sweep-interval"`
	Concurrency int           `default:"8"  usage:"Concurrent merchant updates per sweep" flag:"sweep-concurrency"`
}

// RedisConfig enables the shared idempotency lock. Empty URL keeps the lock
// process-local.
type RedisConfig struct {
	URL string `usage:"Redis URL, e.g. redis://localhost:6379/0" flag:"redis-url"`
}

// AMQPConfig enables handoff publishing to RabbitMQ. Empty URL logs handoffs
// instead.
type AMQPConfig struct {
	URL        string `usage:"AMQP broker URL" flag:"amqp-url"`
	Exchange   string `default:"marketplace.orders" usage:"Handoff exchange" flag:"amqp-exchange"`
	RoutingKey string `default:"order.handoff"      usage:"Handoff routing key" flag:"amqp-routing-key"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads and checks the configuration.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/marketplace/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "timezone %q", c.Timezone)
	}
	if c.Sweep.Interval < 0 {
		return errors.New("sweep interval must not be negative")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL, REDIS_URL and
// PORT onto the MARKET_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
