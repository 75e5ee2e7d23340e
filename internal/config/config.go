// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trunkwatch/trunkwatch/internal/identity"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// ServerConfig sets HTTP listener parameters.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// IngestConfig controls the recorder upload endpoint. An empty token leaves
// the endpoint disabled.
type IngestConfig struct {
	Token         string  `yaml:"token"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

// AccessConfig mirrors the deployment's access policy switches.
type AccessConfig struct {
	Restrict                bool `yaml:"restrict"`
	AnonymousHistoryMinutes int  `yaml:"anonymousHistoryMinutes"`
}

// AnonymousHistory returns the anonymous look-back window as a duration.
func (c AccessConfig) AnonymousHistory() time.Duration {
	if c.AnonymousHistoryMinutes <= 0 {
		return 0
	}
	return time.Duration(c.AnonymousHistoryMinutes) * time.Minute
}

// StreamConfig sizes the per-connection delivery machinery.
type StreamConfig struct {
	QueueCapacity int           `yaml:"queueCapacity"`
	BackfillLimit int           `yaml:"backfillLimit"`
	DrainGrace    time.Duration `yaml:"drainGrace"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
}

// DatabaseConfig holds persistence settings. An empty DSN selects the
// in-memory archive.
type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`
	DirectoryRefresh time.Duration `yaml:"directoryRefresh"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
	Environment  string `yaml:"environment"`
}

// PlanConfig is a subscriber plan. Zero historyMinutes means unlimited
// look-back.
type PlanConfig struct {
	Name           string `yaml:"name"`
	HistoryMinutes int    `yaml:"historyMinutes"`
}

// UserConfig is one configured subscriber account.
type UserConfig struct {
	Token        string      `yaml:"token"`
	Name         string      `yaml:"name"`
	Unrestricted bool        `yaml:"unrestricted"`
	Talkgroups   []string    `yaml:"talkgroups"`
	Plan         *PlanConfig `yaml:"plan"`
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Access    AccessConfig    `yaml:"access"`
	Stream    StreamConfig    `yaml:"stream"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Users     []UserConfig    `yaml:"users"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8730",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Ingest: IngestConfig{
			RatePerSecond: 50,
			Burst:         100,
		},
		Access: AccessConfig{
			AnonymousHistoryMinutes: 30,
		},
		Stream: StreamConfig{
			QueueCapacity: 64,
			BackfillLimit: 50,
			DrainGrace:    2 * time.Second,
			WriteTimeout:  5 * time.Second,
		},
		Database: DatabaseConfig{
			ConnectTimeout:   30 * time.Second,
			DirectoryRefresh: time.Minute,
		},
		Telemetry: TelemetryConfig{
			Environment: "development",
		},
	}
}

// Load reads the YAML file at path, layers it over the defaults, applies
// environment overrides, and validates the result. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("TRUNKWATCH_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("TRUNKWATCH_DB_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("TRUNKWATCH_IMPORT_TOKEN")); v != "" {
		c.Ingest.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TRUNKWATCH_ENV")); v != "" {
		c.Telemetry.Environment = v
	}
}

func (c *Config) normalise() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Ingest.Token = strings.TrimSpace(c.Ingest.Token)
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Telemetry.Environment = strings.ToLower(strings.TrimSpace(c.Telemetry.Environment))
	if c.Stream.QueueCapacity <= 0 {
		c.Stream.QueueCapacity = Default().Stream.QueueCapacity
	}
	if c.Stream.BackfillLimit <= 0 {
		c.Stream.BackfillLimit = Default().Stream.BackfillLimit
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Ingest.RatePerSecond < 0 {
		return fmt.Errorf("config: ingest.ratePerSecond must not be negative")
	}
	if c.Ingest.Burst < 0 {
		return fmt.Errorf("config: ingest.burst must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		token := strings.TrimSpace(u.Token)
		if token == "" {
			return fmt.Errorf("config: user %q has no token", u.Name)
		}
		if _, dup := seen[token]; dup {
			return fmt.Errorf("config: duplicate user token")
		}
		seen[token] = struct{}{}
	}
	return nil
}

// IdentityUsers converts the configured users into resolver entries.
func (c Config) IdentityUsers() []identity.User {
	users := make([]identity.User, 0, len(c.Users))
	for _, u := range c.Users {
		var plan *schema.Plan
		if u.Plan != nil {
			plan = &schema.Plan{
				Name:         u.Plan.Name,
				HistoryLimit: time.Duration(u.Plan.HistoryMinutes) * time.Minute,
			}
		}
		users = append(users, identity.User{
			Token:        u.Token,
			Name:         u.Name,
			Unrestricted: u.Unrestricted,
			Plan:         plan,
			Talkgroups:   u.Talkgroups,
		})
	}
	return users
}
