package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the TOML-driven settings, overlaid by DB_* environment variables.
type Config struct {
	Workers       int            `toml:"workers"`
	DefaultSchema string         `toml:"default_schema"`
	Database      DatabaseConfig `toml:"database"`
	Server        ServerConfig   `toml:"server"`
}

// DatabaseConfig identifies the Postgres-compatible instance to connect to.
type DatabaseConfig struct {
	Host           string        `toml:"host"`
	Port           int           `toml:"port"`
	User           string        `toml:"user"`
	Password       string        `toml:"password"`
	Name           string        `toml:"name"`
	AdminName      string        `toml:"admin_name"` // database used for CREATE DATABASE and listing
	SSLMode        string        `toml:"sslmode"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	MaxConns       int32         `toml:"max_conns"`
}

type ServerConfig struct {
	Addr          string `toml:"addr"`
	MaxCellLength int    `toml:"max_cell_length"` // JSON result cells are clipped to this many characters
}

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

func defaultConfig() Config {
	return Config{
		Workers:       defaultWorkers(),
		DefaultSchema: "public",
		Database: DatabaseConfig{
			Port:           5432,
			Name:           "postgres",
			AdminName:      "postgres",
			SSLMode:        "prefer",
			ConnectTimeout: 10 * time.Second,
			MaxConns:       4,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			MaxCellLength: 2000,
		},
	}
}

// loadConfig builds the configuration: defaults, then the TOML file (if
// path is non-empty), then .env and process environment.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			keys := make([]string, len(unknown))
			for i, k := range unknown {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFile loads a dotenv file if it exists. Variables already set in the
// process environment win.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the DB_* variables the deployment sets on the function.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DB_HOST", &cfg.Database.Host)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASS", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.Name)
	str("DB_ADMIN_NAME", &cfg.Database.AdminName)
	str("DB_SSLMODE", &cfg.Database.SSLMode)

	if v, ok := lookup("DB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: invalid port %q", v)
		}
		cfg.Database.Port = port
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: invalid port %q", v)
		}
		cfg.Server.Addr = ":" + v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers()
	}
	c.DefaultSchema = strings.TrimSpace(c.DefaultSchema)
	if c.DefaultSchema == "" {
		c.DefaultSchema = "public"
	}
	if c.Server.MaxCellLength <= 0 {
		c.Server.MaxCellLength = 2000
	}
	return c.Database.validate()
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("database.host is required (or set DB_HOST)")
	}
	if d.User == "" {
		return fmt.Errorf("database.user is required (or set DB_USER)")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", d.Port)
	}
	if d.Name == "" {
		d.Name = "postgres"
	}
	if d.AdminName == "" {
		d.AdminName = "postgres"
	}
	if d.SSLMode == "" {
		d.SSLMode = "prefer"
	}
	valid := false
	for _, m := range validSSLModes {
		if d.SSLMode == m {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("database.sslmode must be one of: %s", strings.Join(validSSLModes, ", "))
	}
	if d.MaxConns <= 0 {
		d.MaxConns = 4
	}
	return nil
}

// connString renders a postgres:// URL for dbname using these settings.
func (d DatabaseConfig) connString(dbname string) string {
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	if d.ConnectTimeout > 0 {
		secs := int(d.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + dbname,
		RawQuery: q.Encode(),
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	return u.String()
}

// maxDefaultWorkers caps the catalog fan-out when workers is unset.
const maxDefaultWorkers = 8

func defaultWorkers() int {
	return max(1, min(runtime.NumCPU(), maxDefaultWorkers))
}
