// Package config loads conductor settings from defaults, an optional YAML
// file and CONDUCTOR_* environment variables, in increasing precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/conductor/pkg/adapters/genai"
	"github.com/aretw0/conductor/pkg/adapters/rabbitmq"
	"github.com/aretw0/conductor/pkg/domain"
	"github.com/aretw0/conductor/pkg/llm"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CONDUCTOR_STORE_DRIVER.
const EnvPrefix = "CONDUCTOR"

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = ".conductor.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Discovery providers.
const (
	DiscoveryKeyword = "keyword"
	DiscoveryGemini  = "gemini"
)

// Config holds all configuration for conductor.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log_format"`
	// Manifest is the path of the capability manifest (agents, supervisors,
	// tools).
	Manifest  string              `mapstructure:"manifest"`
	LLM       llm.AnthropicConfig `mapstructure:"llm"`
	Breaker   llm.BreakerSettings `mapstructure:"breaker"`
	Discovery DiscoveryConfig     `mapstructure:"discovery"`
	Store     StoreConfig         `mapstructure:"store"`
	Limits    domain.Limits       `mapstructure:"limits"`
	HTTP      HTTPConfig          `mapstructure:"http"`
	MCP       MCPConfig           `mapstructure:"mcp"`
	RabbitMQ  rabbitmq.Config     `mapstructure:"rabbitmq"`
}

// DiscoveryConfig selects the capability searcher.
type DiscoveryConfig struct {
	Provider string       `mapstructure:"provider"`
	Gemini   genai.Config `mapstructure:"gemini"`
}

// StoreConfig selects where thread checkpoints live.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// Path is the directory of the file driver.
	Path string `mapstructure:"path"`
	// DSN is used by the SQL drivers.
	DSN   string      `mapstructure:"dsn"`
	Table string      `mapstructure:"table"`
	Redis RedisConfig `mapstructure:"redis"`
	// EncryptionKey is a base64 encoded 32-byte key. When set checkpoints
	// are sealed with AES-GCM; FallbackKeys still decrypt older ones.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	// LockTTL bounds how long a turn may hold the distributed thread lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type MCPConfig struct {
	Addr    string `mapstructure:"addr"`
	BaseURL string `mapstructure:"base_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("manifest", "conductor.yaml")

	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.use_bedrock", false)
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")
	v.SetDefault("llm.input_price_per_m", 3.0)
	v.SetDefault("llm.output_price_per_m", 15.0)

	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.consecutive_failures", 5)

	v.SetDefault("discovery.provider", DiscoveryKeyword)
	v.SetDefault("discovery.gemini.api_key", "")
	v.SetDefault("discovery.gemini.model", genai.DefaultModel)
	v.SetDefault("discovery.gemini.task_type", "SEMANTIC_SIMILARITY")

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.path", ".conductor/threads")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "")
	v.SetDefault("store.redis.ttl", "0s")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.fallback_keys", []string{})
	v.SetDefault("store.lock_ttl", "30s")

	d := domain.DefaultLimits()
	v.SetDefault("limits.max_back", d.MaxBack)
	v.SetDefault("limits.max_dispatch_retries", d.MaxDispatchRetries)
	v.SetDefault("limits.max_agent_search", d.MaxAgentSearch)
	v.SetDefault("limits.max_agent_retries", d.MaxAgentRetries)
	v.SetDefault("limits.max_replans", d.MaxReplans)
	v.SetDefault("limits.max_steps", d.MaxSteps)
	v.SetDefault("limits.max_tool_calls", d.MaxToolCalls)
	v.SetDefault("limits.max_plan_steps", d.MaxPlanSteps)
	v.SetDefault("limits.top_k", d.TopK)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.jwt_secret", "")
	v.SetDefault("http.jwt_issuer", "conductor")

	v.SetDefault("mcp.addr", ":8081")
	v.SetDefault("mcp.base_url", "http://localhost:8081")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "")
	v.SetDefault("rabbitmq.event_queue", rabbitmq.DefaultEventQueue)
	v.SetDefault("rabbitmq.resume_queue", rabbitmq.DefaultResumeQueue)
	v.SetDefault("rabbitmq.prefetch", 8)
	v.SetDefault("rabbitmq.durable", true)
}

// Load reads path, or DefaultFile when path is empty and the file exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", DefaultFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Provider conventions win over nothing but lose to CONDUCTOR_*.
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("discovery.gemini.api_key", EnvPrefix+"_DISCOVERY_GEMINI_API_KEY", "GEMINI_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverFile, DriverRedis:
	case DriverSQLite, DriverMySQL, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Discovery.Provider {
	case DiscoveryKeyword, DiscoveryGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown discovery.provider %q", c.Discovery.Provider))
	}
	for _, k := range append([]string{c.Store.EncryptionKey}, c.Store.FallbackKeys...) {
		if k == "" {
			continue
		}
		if _, err := DecodeKey(k); err != nil {
			errs = append(errs, err)
		}
	}
	if c.HTTP.JWTSecret != "" && len(c.HTTP.JWTSecret) < 32 {
		errs = append(errs, errors.New("http.jwt_secret must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}

// DecodeKey decodes a base64 AES-256 key.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
