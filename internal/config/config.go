// Package config loads the assistant's YAML configuration with
// environment-variable expansion, per-section defaults, and strict
// field checking.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Datasets  DatasetsConfig  `yaml:"datasets"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Planner   PlannerConfig   `yaml:"planner"`
	Plans     PlansConfig     `yaml:"plans"`
	Source    SourceConfig    `yaml:"source"`
	Contracts ContractsConfig `yaml:"contracts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type DatasetsConfig struct {
	// TTL is the default dataset lifetime; the store clamps it to
	// [1 minute, 1 hour].
	TTL time.Duration `yaml:"ttl"`

	// RedisAddr enables the remote backend with in-process failover.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type CacheConfig struct {
	// ResultTTL is the analytics result memoization lifetime, clamped
	// to [5, 10] minutes.
	ResultTTL time.Duration `yaml:"result_ttl"`
	Enabled   *bool         `yaml:"enabled"`
}

type AuthConfig struct {
	// JWTSecret enables HS256 signature checks on bearer tokens. Empty
	// reads claims unverified, trusting the upstream gateway.
	JWTSecret string `yaml:"jwt_secret"`

	// WriteRoles is the allow-list for write tools.
	WriteRoles []string `yaml:"write_roles"`
}

type PlannerConfig struct {
	MaxSteps             int           `yaml:"max_steps"`
	MaxTokens            int           `yaml:"max_tokens"`
	ToolTemperature      float32       `yaml:"tool_temperature"`
	SynthesisTemperature float32       `yaml:"synthesis_temperature"`
	ConversationTTL      time.Duration `yaml:"conversation_ttl"`
}

type PlansConfig struct {
	// SQLitePath persists confirmation plans; empty keeps them in
	// memory.
	SQLitePath string        `yaml:"sqlite_path"`
	TTL        time.Duration `yaml:"ttl"`
}

type SourceConfig struct {
	// PostgresDSN enables the atomic query source.
	PostgresDSN string       `yaml:"postgres_dsn"`
	Queries     []QueryEntry `yaml:"queries"`

	// FilterAliases maps resource-specific filter names onto the
	// canonical query parameter names.
	FilterAliases map[string]string `yaml:"filter_aliases"`
}

// QueryEntry declares one atomic query.
type QueryEntry struct {
	Name   string        `yaml:"name"`
	SQL    string        `yaml:"sql"`
	Params []string      `yaml:"params"`
	TTL    time.Duration `yaml:"ttl"`
}

type ContractsConfig struct {
	// EnforcedKinds fail closed when their schema is missing.
	EnforcedKinds []string `yaml:"enforced_kinds"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address; empty disables
	// tracing.
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Load reads, expands, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes strictly: unknown fields are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.Datasets.TTL == 0 {
		cfg.Datasets.TTL = 10 * time.Minute
	}
	if cfg.Cache.ResultTTL == 0 {
		cfg.Cache.ResultTTL = 5 * time.Minute
	}
	if cfg.Cache.Enabled == nil {
		enabled := true
		cfg.Cache.Enabled = &enabled
	}
	if len(cfg.Auth.WriteRoles) == 0 {
		cfg.Auth.WriteRoles = []string{"sales.write"}
	}
	if cfg.Planner.MaxSteps == 0 {
		cfg.Planner.MaxSteps = 6
	}
	if cfg.Planner.MaxTokens == 0 {
		cfg.Planner.MaxTokens = 2048
	}
	if cfg.Planner.SynthesisTemperature == 0 {
		cfg.Planner.SynthesisTemperature = 0.2
	}
	if cfg.Planner.ConversationTTL == 0 {
		cfg.Planner.ConversationTTL = 2 * time.Hour
	}
	if cfg.Plans.TTL == 0 {
		cfg.Plans.TTL = 15 * time.Minute
	}
	if len(cfg.Contracts.EnforcedKinds) == 0 {
		cfg.Contracts.EnforcedKinds = []string{"analytics.run.v2", "data.query.v2"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "assistant"
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Planner.MaxSteps < 1 || c.Planner.MaxSteps > 20 {
		return fmt.Errorf("planner.max_steps %d out of range [1,20]", c.Planner.MaxSteps)
	}
	seen := map[string]bool{}
	for i, q := range c.Source.Queries {
		if q.Name == "" {
			return fmt.Errorf("source.queries[%d]: name is required", i)
		}
		if q.SQL == "" {
			return fmt.Errorf("source.queries[%d] (%s): sql is required", i, q.Name)
		}
		if seen[q.Name] {
			return fmt.Errorf("source.queries: duplicate name %q", q.Name)
		}
		seen[q.Name] = true
	}
	return nil
}
