package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"task-timer/internal/adapter/sse"
	"task-timer/internal/broadcast"
)

// Config holds file- and environment-driven configuration. Environment
// variables override values from the YAML file.
type Config struct {
	LogLevel string `yaml:"log_level"` // debug|info|warn|error

	HTTP struct {
		Addr string `yaml:"addr"` // default :8080
	} `yaml:"http"`

	Store struct {
		Driver     string `yaml:"driver"`      // mysql|sqlite, default sqlite
		SQLitePath string `yaml:"sqlite_path"` // default task-timer.db
	} `yaml:"store"`

	MySQL struct {
		DSN string `yaml:"dsn"` // e.g., user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
	} `yaml:"mysql"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Stream struct {
		Heartbeat time.Duration `yaml:"heartbeat"` // default broadcast.DefaultHeartbeat
		Buffer    int           `yaml:"buffer"`    // frames queued per viewer, default sse.DefaultBuffer
	} `yaml:"stream"`

	Redis struct {
		URL     string `yaml:"url"`     // optional; enables the cross-instance relay
		Channel string `yaml:"channel"` // default task-timer:views
	} `yaml:"redis"`

	Client struct {
		APIURL string `yaml:"api_url"` // default http://localhost:8080
		Token  string `yaml:"token"`
	} `yaml:"client"`
}

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	var cfg Config
	cfg.LogLevel = "info"
	cfg.HTTP.Addr = ":8080"
	cfg.Store.Driver = DriverSQLite
	cfg.Store.SQLitePath = "task-timer.db"
	cfg.Auth.Issuer = "task-timer"
	cfg.Stream.Heartbeat = broadcast.DefaultHeartbeat
	cfg.Stream.Buffer = sse.DefaultBuffer
	cfg.Redis.Channel = "task-timer:views"
	cfg.Client.APIURL = "http://localhost:8080"
	return cfg
}

// Load reads the optional YAML file at path, then applies environment
// variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.SQLitePath, "SQLITE_PATH")
	setString(&cfg.MySQL.DSN, "MYSQL_DSN")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.Issuer, "JWT_ISSUER")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Channel, "REDIS_CHANNEL")
	setString(&cfg.Client.APIURL, "TIMER_API_URL")
	setString(&cfg.Client.Token, "TIMER_TOKEN")

	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, errors.New("HEARTBEAT_INTERVAL must be a positive duration")
		}
		cfg.Stream.Heartbeat = d
	}
	if v := os.Getenv("STREAM_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, errors.New("STREAM_BUFFER must be a positive integer")
		}
		cfg.Stream.Buffer = n
	}

	switch cfg.Store.Driver {
	case DriverMySQL:
		if cfg.MySQL.DSN == "" {
			return cfg, errors.New("MYSQL_DSN is required when STORE_DRIVER=mysql")
		}
	case DriverSQLite:
		if cfg.Store.SQLitePath == "" {
			return cfg, errors.New("SQLITE_PATH must not be empty")
		}
	default:
		return cfg, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, cfg.Store.Driver)
	}
	return cfg, nil
}

// ValidateServer checks the settings only the server needs.
func (c Config) ValidateServer() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
