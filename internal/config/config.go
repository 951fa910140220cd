// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package config loads the server configuration from flag defaults, an
// optional YAML file, FITTRACK_* environment variables and explicitly set
// flags, in increasing order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/fittrack/fittrack/internal/auth"
	"github.com/fittrack/fittrack/internal/logging"
	"github.com/fittrack/fittrack/pkg/errutil"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FITTRACK_"

// Config is the immutable process configuration.
type Config struct {
	HTTPAddr        string        `koanf:"http-addr"`
	MetricsAddr     string        `koanf:"metrics-addr"`
	DatabaseURL     string        `koanf:"database-url"`
	JWTSecret       string        `koanf:"jwt-secret"`
	TokenTTL        time.Duration `koanf:"token-ttl"`
	BcryptCost      int           `koanf:"bcrypt-cost"`
	UploadDir       string        `koanf:"upload-dir"`
	MaxUploadBytes  int64         `koanf:"max-upload-bytes"`
	CORSOrigins     []string      `koanf:"cors-origins"`
	LogFormat       string        `koanf:"log-format"`
	LogLevel        string        `koanf:"log-level"`
	TxMaxRetries    uint64        `koanf:"tx-max-retries"`
	CleanupTimeout  time.Duration `koanf:"cleanup-timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown-timeout"`
	// LoginRate is the number of signup or login attempts allowed per client
	// per minute.
	LoginRate int `koanf:"login-rate"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:        ":5000",
		MetricsAddr:     "127.0.0.1:9100",
		TokenTTL:        auth.DefaultTokenTTL,
		BcryptCost:      auth.DefaultBcryptCost,
		UploadDir:       "uploads/images",
		MaxUploadBytes:  5 << 20,
		CORSOrigins:     []string{"*"},
		LogFormat:       "json",
		LogLevel:        "info",
		TxMaxRetries:    3,
		CleanupTimeout:  10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LoginRate:       10,
	}
}

// RegisterFlags defines one flag per key except jwt-secret, which is only
// read from the file or environment.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTPAddr, "API listen address")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health listen address (empty = disabled)")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL URL (empty = in-memory store)")
	fs.Duration("token-ttl", d.TokenTTL, "session token lifetime")
	fs.Int("bcrypt-cost", d.BcryptCost, "bcrypt work factor")
	fs.String("upload-dir", d.UploadDir, "directory for uploaded images")
	fs.Int64("max-upload-bytes", d.MaxUploadBytes, "largest accepted upload")
	fs.StringSlice("cors-origins", d.CORSOrigins, "allowed CORS origins")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.Uint64("tx-max-retries", d.TxMaxRetries, "retries for a linked transaction after a conflict")
	fs.Duration("cleanup-timeout", d.CleanupTimeout, "bound on one artifact removal")
	fs.Duration("shutdown-timeout", d.ShutdownTimeout, "bound on graceful shutdown")
	fs.Int("login-rate", d.LoginRate, "signup/login attempts per client per minute")
}

// envKey maps FITTRACK_DATABASE_URL to database-url. Comma separated lists
// become slices.
func envKey(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "_", "-")
	if key == "cors-origins" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

// Load reads and validates configuration. path may be empty. fs may be nil;
// when set it must carry the flags from RegisterFlags.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	cfg, err := load(fs, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabaseURL reads only the database URL from the same sources as Load.
// The remaining keys are not validated.
func LoadDatabaseURL(fs *pflag.FlagSet, path string) (string, error) {
	cfg, err := load(fs, path)
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", invalid("database-url", "is required")
	}
	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return "", invalid("database-url", "is not a URL")
	}
	return cfg.DatabaseURL, nil
}

func load(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(errutil.CodeValidation).With("path", path).Wrapf(err, "read config file")
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(errutil.CodeValidation).Wrapf(err, "read environment")
	}
	if fs != nil {
		// Unchanged flags only fill keys nobody else set.
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, oops.Code(errutil.CodeValidation).Wrapf(err, "read flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(errutil.CodeValidation).Wrapf(err, "decode config")
	}
	return &cfg, nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code(errutil.CodeValidation).With("key", key).Errorf("%s: %s", key, fmt.Sprintf(format, args...))
}

// Validate checks every key and names the first bad one.
func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return invalid("http-addr", "is required")
	case len(c.JWTSecret) < auth.MinSecretLength:
		return invalid("jwt-secret", "must be at least %d bytes", auth.MinSecretLength)
	case c.TokenTTL <= 0:
		return invalid("token-ttl", "must be positive")
	case c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost:
		return invalid("bcrypt-cost", "must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	case c.UploadDir == "":
		return invalid("upload-dir", "is required")
	case c.MaxUploadBytes <= 0:
		return invalid("max-upload-bytes", "must be positive")
	case len(c.CORSOrigins) == 0:
		return invalid("cors-origins", "needs at least one origin")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return invalid("log-format", "must be json or text, got %q", c.LogFormat)
	case c.TxMaxRetries < 1 || c.TxMaxRetries > 10:
		return invalid("tx-max-retries", "must be between 1 and 10")
	case c.CleanupTimeout <= 0:
		return invalid("cleanup-timeout", "must be positive")
	case c.ShutdownTimeout <= 0:
		return invalid("shutdown-timeout", "must be positive")
	case c.LoginRate <= 0:
		return invalid("login-rate", "must be positive")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log-level", "unknown level %q", c.LogLevel)
	}
	if c.DatabaseURL != "" {
		if _, err := url.Parse(c.DatabaseURL); err != nil {
			return invalid("database-url", "is not a URL")
		}
	}
	return nil
}

// LogValue hides the signing secret and the database password.
func (c Config) LogValue() slog.Value {
	db := c.DatabaseURL
	if u, err := url.Parse(db); err == nil && db != "" {
		db = u.Redacted()
	}
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("metrics_addr", c.MetricsAddr),
		slog.String("database_url", db),
		slog.Bool("jwt_secret_set", c.JWTSecret != ""),
		slog.Duration("token_ttl", c.TokenTTL),
		slog.Int("bcrypt_cost", c.BcryptCost),
		slog.String("upload_dir", c.UploadDir),
		slog.Int64("max_upload_bytes", c.MaxUploadBytes),
		slog.Any("cors_origins", c.CORSOrigins),
		slog.String("log_format", c.LogFormat),
		slog.Uint64("tx_max_retries", c.TxMaxRetries),
		slog.Int("login_rate", c.LoginRate),
	)
}
