// Package config loads the YAML configuration of a coratools client.
//
// A file looks like:
//
//	server:
//	  address: loggernet.local:6789
//	  app_name: collector
//	  user: admin
//	  dial_timeout: 10s
//	database:
//	  connect_string: db-type=mysql;db-data-source=db.local;db-initial-catalog=site
//	  poll_interval: 5s
//	retry:
//	  initial_delay: 1s
//	  max_delay: 1m
//	log:
//	  level: debug
//	  format: json
//
// Values missing from the file take their defaults. Environment variables
// prefixed with CORATOOLS_ override the secrets and addresses.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jtrauntvein/coratools/dbsource"
	"github.com/jtrauntvein/coratools/retry"
)

// EnvPrefix prefixes the environment overrides.
const EnvPrefix = "CORATOOLS"

// Config is the complete client configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Retry    retry.Config   `yaml:"retry"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig locates and authenticates with the LoggerNet server.
type ServerConfig struct {
	Address     string        `yaml:"address"`
	AppName     string        `yaml:"app_name"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DatabaseConfig configures the database source. An empty connect string
// disables it.
type DatabaseConfig struct {
	Name          string        `yaml:"name"`
	ConnectString string        `yaml:"connect_string"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Workers       int           `yaml:"workers"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for missing values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			AppName:     "coratools",
			DialTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Name:         "db",
			PollInterval: dbsource.DefaultPollInterval,
			BatchSize:    dbsource.DefaultBatchSize,
			Workers:      dbsource.DefaultWorkers,
		},
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
			AddJitter:    true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults, applies environment overrides and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if val := os.Getenv(EnvPrefix + "_SERVER_ADDRESS"); val != "" {
		c.Server.Address = val
	}
	if val := os.Getenv(EnvPrefix + "_SERVER_USER"); val != "" {
		c.Server.User = val
	}
	if val := os.Getenv(EnvPrefix + "_SERVER_PASSWORD"); val != "" {
		c.Server.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_DB_CONNECT_STRING"); val != "" {
		c.Database.ConnectString = val
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.DialTimeout <= 0 {
		return errors.New("server.dial_timeout must be positive")
	}
	if c.Database.ConnectString != "" {
		if _, err := c.Database.Connect(); err != nil {
			return fmt.Errorf("database.connect_string: %w", err)
		}
		if c.Database.Name == "" {
			return errors.New("database.name is required")
		}
		if c.Database.PollInterval < 0 {
			return errors.New("database.poll_interval cannot be negative")
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Connect parses the connect string.
func (d DatabaseConfig) Connect() (dbsource.ConnectString, error) {
	return dbsource.ParseConnectString(d.ConnectString)
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}

// NewLogger builds a logger writing to w.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
