// Package config loads boostd and boostctl settings from boost.toml and BOOST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App     AppConfig
	Log     LogConfig
	Local   LocalConfig
	Remote  RemoteConfig
	Notify  NotifyConfig
	Session SessionConfig
	Server  ServerConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// LocalConfig selects the local durable store.
type LocalConfig struct {
	Driver  string // file, sqlite
	DataDir string
}

// RemoteConfig selects the remote document store the mirror pushes to.
type RemoteConfig struct {
	Backend     string // none, http, redis, postgres
	URL         string // boostd base URL for the http backend
	Token       string // bearer token presented to boostd
	Insecure    bool   // skip TLS verification (self-signed boostd certs)
	RedisURL    string
	PostgresDSN string
}

// NotifyConfig selects the cross-instance change channel.
type NotifyConfig struct {
	Backend  string // hub, redis, none
	Channel  string
	RedisURL string
}

// SessionConfig holds session file and token settings.
type SessionConfig struct {
	File       string
	Secret     string // HS256 signing key for session tokens
	Passphrase string // seals the session file at rest when set
	TTL        time.Duration
}

// ServerConfig holds boostd settings.
type ServerConfig struct {
	Addr         string
	Backend      string // memory, redis, postgres
	RedisURL     string
	PostgresDSN  string
	Token        string // required bearer token; empty disables auth
	TLS          bool
	CertDir      string
	AllowOrigins []string
}

// Load reads configuration with this priority (highest first):
// 1. Environment variables with BOOST_ prefix (e.g. BOOST_REMOTE_URL)
// 2. The config file at path, or boost.toml in . or ~/.socialboost
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("boost")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath(homeDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BOOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Local: LocalConfig{
			Driver:  v.GetString("local.driver"),
			DataDir: v.GetString("local.data_dir"),
		},
		Remote: RemoteConfig{
			Backend:     v.GetString("remote.backend"),
			URL:         v.GetString("remote.url"),
			Token:       v.GetString("remote.token"),
			Insecure:    v.GetBool("remote.insecure"),
			RedisURL:    v.GetString("remote.redis_url"),
			PostgresDSN: v.GetString("remote.postgres_dsn"),
		},
		Notify: NotifyConfig{
			Backend:  v.GetString("notify.backend"),
			Channel:  v.GetString("notify.channel"),
			RedisURL: v.GetString("notify.redis_url"),
		},
		Session: SessionConfig{
			File:       v.GetString("session.file"),
			Secret:     v.GetString("session.secret"),
			Passphrase: v.GetString("session.passphrase"),
			TTL:        v.GetDuration("session.ttl"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			Backend:      v.GetString("server.backend"),
			RedisURL:     v.GetString("server.redis_url"),
			PostgresDSN:  v.GetString("server.postgres_dsn"),
			Token:        v.GetString("server.token"),
			TLS:          v.GetBool("server.tls"),
			CertDir:      v.GetString("server.cert_dir"),
			AllowOrigins: v.GetStringSlice("server.allow_origins"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".socialboost")
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "socialboost"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Local.Driver == "" {
		cfg.Local.Driver = "file"
	}
	if cfg.Local.DataDir == "" {
		cfg.Local.DataDir = filepath.Join(homeDir(), "data")
	}
	if cfg.Remote.Backend == "" {
		cfg.Remote.Backend = "none"
	}
	if cfg.Notify.Backend == "" {
		cfg.Notify.Backend = "hub"
	}
	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = "socialboost_cloud_sync_v2"
	}
	if cfg.Session.File == "" {
		cfg.Session.File = filepath.Join(homeDir(), "session.json")
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 7 * 24 * time.Hour
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":7001"
	}
	if cfg.Server.Backend == "" {
		cfg.Server.Backend = "memory"
	}
	if cfg.Server.CertDir == "" {
		cfg.Server.CertDir = filepath.Join(homeDir(), "certs")
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Local.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("local.driver must be file or sqlite, got %q", c.Local.Driver)
	}

	switch c.Remote.Backend {
	case "none":
	case "http":
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the http backend")
		}
	case "redis":
		if c.Remote.RedisURL == "" {
			return fmt.Errorf("remote.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Remote.PostgresDSN == "" {
			return fmt.Errorf("remote.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown remote.backend %q", c.Remote.Backend)
	}

	switch c.Notify.Backend {
	case "hub", "none":
	case "redis":
		if c.Notify.RedisURL == "" {
			return fmt.Errorf("notify.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}

	switch c.Server.Backend {
	case "memory":
	case "redis":
		if c.Server.RedisURL == "" {
			return fmt.Errorf("server.redis_url is required for the redis backend")
		}
	case "postgres":
		if c.Server.PostgresDSN == "" {
			return fmt.Errorf("server.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown server.backend %q", c.Server.Backend)
	}

	if c.App.Env == "production" {
		if len(c.Session.Secret) < 32 {
			return fmt.Errorf("session.secret must be at least 32 characters in production")
		}
		if c.Server.Token == "" {
			return fmt.Errorf("server.token is required in production")
		}
	}
	return nil
}
