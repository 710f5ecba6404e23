package config

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	AuthMode             string        `mapstructure:"AUTH_MODE"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnectAttempts    uint          `mapstructure:"DB_CONNECT_ATTEMPTS"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthHMACSecret       string        `mapstructure:"AUTH_HMAC_SECRET"`
	AuthRequiredModule   string        `mapstructure:"AUTH_REQUIRED_MODULE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	SignatureKey         string        `mapstructure:"SIGNATURE_KEY"`
	SignatureIssuer      string        `mapstructure:"SIGNATURE_ISSUER"`
	TranscriptionWorkers int           `mapstructure:"TRANSCRIPTION_WORKERS"`
	MigrationsDir        string        `mapstructure:"MIGRATIONS_DIR"`
	MetricsEnabled       bool          `mapstructure:"METRICS_ENABLED"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout      time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	TLSEnabled           bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile          string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile           string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONNECT_ATTEMPTS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_HMAC_SECRET", "AUTH_REQUIRED_MODULE", "CORS_ORIGINS",
	"SIGNATURE_KEY", "SIGNATURE_ISSUER", "TRANSCRIPTION_WORKERS", "MIGRATIONS_DIR", "METRICS_ENABLED",
	"REQUEST_TIMEOUT", "SHUTDOWN_TIMEOUT", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_CONNECT_ATTEMPTS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SIGNATURE_ISSUER", "clinicledger-dev-ca")
	v.SetDefault("TRANSCRIPTION_WORKERS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get header-based dev auth and everything else requires JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// SigningKey decodes SIGNATURE_KEY. It returns nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.SignatureKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.SignatureKey)
	if err != nil {
		return nil, errors.Wrap(err, "SIGNATURE_KEY is not valid hex")
	}
	if len(key) != 32 {
		return nil, errors.Newf("SIGNATURE_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return errors.New("AUTH_MODE=development is not allowed in production")
		}
	case AuthModeJWT:
		if c.AuthHMACSecret == "" {
			return errors.New("AUTH_HMAC_SECRET must be set when AUTH_MODE is \"jwt\"")
		}
	default:
		return errors.Newf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if c.IsProduction() && c.SignatureKey == "" {
		return errors.New("SIGNATURE_KEY is required in production")
	}
	if _, err := c.SigningKey(); err != nil {
		return err
	}

	if c.TranscriptionWorkers < 1 {
		return errors.Newf("TRANSCRIPTION_WORKERS must be at least 1, got %d", c.TranscriptionWorkers)
	}
	if c.RequestTimeout < 0 {
		return errors.New("REQUEST_TIMEOUT must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return errors.Newf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return errors.New("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return errors.New("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
