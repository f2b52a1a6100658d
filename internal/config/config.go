// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/svirmi/coursepay/internal/helpers"
)

type Config struct {
	Env        string           `yaml:"env"`
	HTTP       HTTPConfig       `yaml:"http"`
	Store      StoreConfig      `yaml:"store"`
	DB         DBConfig         `yaml:"db"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Settlement SettlementConfig `yaml:"settlement"`
	Identity   IdentityConfig   `yaml:"identity"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type GatewayConfig struct {
	BaseURL           string        `yaml:"base_url"`
	SecretKey         string        `yaml:"secret_key"`
	Currency          string        `yaml:"currency"`
	CallbackURL       string        `yaml:"callback_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetryElapsed   time.Duration `yaml:"max_retry_elapsed"`
}

type SettlementConfig struct {
	PlatformPrincipalID  string        `yaml:"platform_principal_id"`
	EducatorSharePercent float64       `yaml:"educator_share_percent"`
	FeePercent           float64       `yaml:"fee_percent"`
	FeeFlat              int64         `yaml:"fee_flat"`
	FeeFlatThreshold     int64         `yaml:"fee_flat_threshold"`
	FeeCap               int64         `yaml:"fee_cap"`
	PendingExpiry        time.Duration `yaml:"pending_expiry"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	PricingCacheTTL      time.Duration `yaml:"pricing_cache_ttl"`
}

type IdentityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

func Defaults() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Store: StoreConfig{Driver: "postgres"},
		DB: DBConfig{
			Host:     "postgres",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "coursepay",
			SSLMode:  "disable",
		},
		Gateway: GatewayConfig{
			BaseURL:           "https://api.paystack.co",
			Currency:          "NGN",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 20,
			Burst:             5,
			MaxRetryElapsed:   5 * time.Second,
		},
		Settlement: SettlementConfig{
			PlatformPrincipalID:  "platform",
			EducatorSharePercent: 70,
			FeePercent:           1.5,
			FeeFlat:              10000,
			FeeFlatThreshold:     250000,
			FeeCap:               200000,
			PendingExpiry:        24 * time.Hour,
			SweepInterval:        5 * time.Minute,
			PricingCacheTTL:      time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), then the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()
		if err := MergeYAML(&cfg, f); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MergeYAML decodes YAML over cfg. ${VAR} and ${VAR:-default} references
// are expanded from the environment first.
func MergeYAML(cfg *Config, src io.Reader) error {
	raw, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var missing []string
	expanded := os.Expand(string(raw), func(key string) string {
		if i := strings.Index(key, ":-"); i != -1 {
			if v, ok := os.LookupEnv(key[:i]); ok {
				return v
			}
			return key[i+2:]
		}
		v, ok := os.LookupEnv(key)
		if !ok {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return fmt.Errorf("config file references unset environment variables: %v", missing)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = helpers.GetEnvAsStr("ENV", cfg.Env)

	cfg.HTTP.Port = helpers.GetEnvAsStr("PORT", cfg.HTTP.Port)
	cfg.HTTP.ShutdownTimeout = helpers.GetEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.HTTP.RequestTimeout = helpers.GetEnvAsDuration("REQUEST_TIMEOUT", cfg.HTTP.RequestTimeout)

	cfg.Store.Driver = helpers.GetEnvAsStr("STORE_DRIVER", cfg.Store.Driver)

	cfg.DB.Host = helpers.GetEnvAsStr("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = helpers.GetEnvAsStr("DB_PORT", cfg.DB.Port)
	cfg.DB.User = helpers.GetEnvAsStr("DB_USER", cfg.DB.User)
	cfg.DB.Password = helpers.GetEnvAsStr("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = helpers.GetEnvAsStr("DB_NAME", cfg.DB.Name)
	cfg.DB.SSLMode = helpers.GetEnvAsStr("DB_SSLMODE", cfg.DB.SSLMode)

	cfg.Gateway.BaseURL = helpers.GetEnvAsStr("GATEWAY_BASE_URL", cfg.Gateway.BaseURL)
	cfg.Gateway.SecretKey = helpers.GetEnvAsStr("GATEWAY_SECRET_KEY", cfg.Gateway.SecretKey)
	cfg.Gateway.Currency = helpers.GetEnvAsStr("GATEWAY_CURRENCY", cfg.Gateway.Currency)
	cfg.Gateway.CallbackURL = helpers.GetEnvAsStr("CALLBACK_URL", cfg.Gateway.CallbackURL)
	cfg.Gateway.Timeout = helpers.GetEnvAsDuration("GATEWAY_TIMEOUT", cfg.Gateway.Timeout)
	cfg.Gateway.RequestsPerSecond = helpers.GetEnvAsFloat("GATEWAY_RPS", cfg.Gateway.RequestsPerSecond)

	cfg.Settlement.PlatformPrincipalID = helpers.GetEnvAsStr("PLATFORM_PRINCIPAL_ID", cfg.Settlement.PlatformPrincipalID)
	cfg.Settlement.EducatorSharePercent = helpers.GetEnvAsFloat("EDUCATOR_SHARE_PERCENT", cfg.Settlement.EducatorSharePercent)
	cfg.Settlement.FeePercent = helpers.GetEnvAsFloat("FEE_PERCENT", cfg.Settlement.FeePercent)
	cfg.Settlement.FeeFlat = helpers.GetEnvAsInt64("FEE_FLAT", cfg.Settlement.FeeFlat)
	cfg.Settlement.FeeFlatThreshold = helpers.GetEnvAsInt64("FEE_FLAT_THRESHOLD", cfg.Settlement.FeeFlatThreshold)
	cfg.Settlement.FeeCap = helpers.GetEnvAsInt64("FEE_CAP", cfg.Settlement.FeeCap)
	cfg.Settlement.PendingExpiry = helpers.GetEnvAsDuration("PENDING_EXPIRY", cfg.Settlement.PendingExpiry)
	cfg.Settlement.SweepInterval = helpers.GetEnvAsDuration("SWEEP_INTERVAL", cfg.Settlement.SweepInterval)

	cfg.Identity.JWTSecret = helpers.GetEnvAsStr("IDENTITY_JWT_SECRET", cfg.Identity.JWTSecret)
	cfg.Identity.Issuer = helpers.GetEnvAsStr("IDENTITY_ISSUER", cfg.Identity.Issuer)

	cfg.Logging.Level = helpers.GetEnvAsStr("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = helpers.GetEnvAsStr("LOG_FORMAT", cfg.Logging.Format)
}

// Validate collects every problem instead of stopping at the first.
func (c Config) Validate() error {
	var errs error
	if c.Store.Driver != "postgres" && c.Store.Driver != "memory" {
		errs = errors.Join(errs, fmt.Errorf("store driver must be postgres or memory, got %q", c.Store.Driver))
	}
	if c.Gateway.BaseURL == "" {
		errs = errors.Join(errs, errors.New("gateway base url is required"))
	}
	if c.Gateway.SecretKey == "" {
		errs = errors.Join(errs, errors.New("gateway secret key is required"))
	}
	if c.Identity.JWTSecret == "" {
		errs = errors.Join(errs, errors.New("identity jwt secret is required"))
	}
	if c.Settlement.PlatformPrincipalID == "" {
		errs = errors.Join(errs, errors.New("platform principal id is required"))
	}
	if c.Settlement.EducatorSharePercent < 0 || c.Settlement.EducatorSharePercent > 100 {
		errs = errors.Join(errs, fmt.Errorf("educator share percent %v out of range", c.Settlement.EducatorSharePercent))
	}
	if c.Settlement.FeePercent < 0 {
		errs = errors.Join(errs, errors.New("fee percent must not be negative"))
	}
	if c.Settlement.SweepInterval <= 0 {
		errs = errors.Join(errs, errors.New("sweep interval must be positive"))
	}
	return errs
}
