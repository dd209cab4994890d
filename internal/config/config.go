package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.airtap/airtap.yaml"
	DefaultAPIURL  = "https://api.airtable.com/v0/"
)

// Sink types.
const (
	SinkSinger     = "singer"
	SinkMongoDB    = "mongodb"
	SinkPostgreSQL = "postgresql"
	SinkS3         = "s3"
	SinkRedis      = "redis"
	SinkAMQP       = "amqp"
)

// Config is the top-level configuration.
type Config struct {
	Version   int           `yaml:"version"`
	Token     string        `yaml:"token"`
	APIURL    string        `yaml:"api_url,omitempty"`
	BaseIDs   []string      `yaml:"base_ids,omitempty"`
	Tables    []string      `yaml:"tables,omitempty"` // glob patterns on table names
	StatePath string        `yaml:"state_path,omitempty"`
	Retry     RetryConfig   `yaml:"retry,omitempty"`
	Sink      SinkConfig    `yaml:"sink"`
	Logging   LogConfig     `yaml:"logging,omitempty"`
	Metrics   MetricsConfig `yaml:"metrics,omitempty"`
}

// RetryConfig controls backoff for 429 and 5xx responses.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
}

// SinkConfig selects and configures the record destination. Only the fields
// relevant to Type are read.
type SinkConfig struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connection_string,omitempty"` // mongodb, postgresql, redis, amqp
	Database         string `yaml:"database,omitempty"`          // mongodb
	Schema           string `yaml:"schema,omitempty"`            // postgresql
	Bucket           string `yaml:"bucket,omitempty"`            // s3
	Prefix           string `yaml:"prefix,omitempty"`            // s3 key prefix, redis key prefix
	Region           string `yaml:"region,omitempty"`            // s3
	Profile          string `yaml:"profile,omitempty"`           // s3
	Exchange         string `yaml:"exchange,omitempty"`          // amqp
	BatchSize        int    `yaml:"batch_size,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.airtap/logs/
}

// MetricsConfig enables the Prometheus endpoint during sync.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the sink has what it needs to connect.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}

	s := c.Sink
	switch s.Type {
	case SinkSinger:
	case SinkMongoDB:
		if s.ConnectionString == "" || s.Database == "" {
			return fmt.Errorf("mongodb sink requires connection_string and database")
		}
	case SinkPostgreSQL, SinkRedis, SinkAMQP:
		if s.ConnectionString == "" {
			return fmt.Errorf("%s sink requires connection_string", s.Type)
		}
	case SinkS3:
		if s.Bucket == "" {
			return fmt.Errorf("s3 sink requires bucket")
		}
	default:
		return fmt.Errorf("unknown sink type %q", s.Type)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.StatePath == "" {
		c.StatePath = ExpandHome("~/.airtap/state.yaml")
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = time.Second
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = 30 * time.Second
	}
	if c.Sink.Type == "" {
		c.Sink.Type = SinkSinger
	}
	if c.Sink.BatchSize <= 0 {
		c.Sink.BatchSize = 500
	}
	switch c.Sink.Type {
	case SinkPostgreSQL:
		if c.Sink.Schema == "" {
			c.Sink.Schema = "public"
		}
	case SinkS3, SinkRedis:
		if c.Sink.Prefix == "" {
			c.Sink.Prefix = "airtap"
		}
	case SinkAMQP:
		if c.Sink.Exchange == "" {
			c.Sink.Exchange = "airtap.records"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.airtap/logs/")
	}
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Token, err = ResolveValue(c.Token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	c.Sink.ConnectionString, err = ResolveValue(c.Sink.ConnectionString)
	if err != nil {
		return fmt.Errorf("sink connection string: %w", err)
	}
	return nil
}

// ResolveValue resolves a ${PROVIDER:ref} secret reference. Values without a
// reference are returned unchanged.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
