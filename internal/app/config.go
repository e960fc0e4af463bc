package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/mall-pos/internal/storage"
)

const defaultAddr = "0.0.0.0:8080"

// Config is the pos-server configuration, loadable from environment variables
// (POS_ prefix), flags, or YAML files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	// AdminKey, when set, is stored as the "bootstrap" admin key at startup.
	AdminKey string `usage:"Bootstrap admin API key" flag:"admin-key"`
	// Timezone cuts report buckets at local midnight.
	Timezone  string `default:"UTC" usage:"IANA timezone of the store"`
	Storage   storage.Config
	Redis     RedisConfig
	Checkout  CheckoutConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// RedisConfig locates the cart session store. Carts stay in process memory
// when Addr is empty.
type RedisConfig struct {
	Addr     string        `usage:"Redis address for cart sessions" flag:"redis-addr"`
	Password string        `usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database number" flag:"redis-db"`
	CartTTL  time.Duration `default:"12h" usage:"Idle cart expiry" flag:"cart-ttl"`
}

// CheckoutConfig tunes conflict retries of the checkout transaction.
type CheckoutConfig struct {
	MaxAttempts  int           `default:"3" usage:"Checkout attempts on transaction conflict" flag:"checkout-attempts"`
	RetryBackoff time.Duration `default:"25ms" usage:"Base backoff between checkout attempts" flag:"checkout-backoff"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window"`
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

// LoadConfig loads configuration from environment variables and YAML files,
// then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS",
		Files:     []string{"config.yaml", "/etc/pos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case storage.Postgres, "":
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set POS_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case storage.SQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case storage.Memory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set POS_API_KEY_PEPPER")
	}
	if c.Checkout.MaxAttempts < 1 {
		return errors.Errorf("checkout attempts must be positive, got %d", c.Checkout.MaxAttempts)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrap(err, "timezone")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided variables such as DATABASE_URL
// and PORT onto the POS_-prefixed settings.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
