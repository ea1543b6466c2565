// Package kernelconfig loads and validates the kernel's runtime
// configuration: which storage backends each component binds to, connection
// strings for Mongo/Redis/Temporal, model provider credentials, and the
// tunables governing lease durations, retry budgets, and time-box limits.
//
// Configuration is loaded from a YAML file and may be overridden by
// environment variables, following the same layered convention used
// elsewhere in the pack: defaults, then file, then environment.
package kernelconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the storage implementation a component binds to.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendMongo    Backend = "mongo"
	BackendPulse    Backend = "pulse"
	BackendTemporal Backend = "temporal"
)

// Config is the root kernel configuration.
type Config struct {
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Temporal TemporalConfig `yaml:"temporal"`
	Model    ModelConfig    `yaml:"model"`

	EventLog  EventLogConfig  `yaml:"event_log"`
	Memory    MemoryConfig    `yaml:"memory"`
	Revision  RevisionConfig  `yaml:"revision"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Harness   HarnessConfig   `yaml:"harness"`
}

// MongoConfig configures the shared Mongo client used by any component bound
// to BackendMongo.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig configures the shared Redis connection backing Pulse-based
// streaming and distributed worker-pool coordination.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TemporalConfig configures the Temporal client used by the harness engine
// when bound to BackendTemporal.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// ModelConfig configures the model providers available to the harness.
type ModelConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Anthropic       AnthropicModelConfig `yaml:"anthropic"`
	OpenAI          OpenAIModelConfig    `yaml:"openai"`
	Bedrock         BedrockModelConfig   `yaml:"bedrock"`
	// RateLimitRPS is a requests-per-second setting for outbound model
	// requests. It is loaded and defaulted here; no kernel component reads
	// it and no request limiter is built from it.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

// AnthropicModelConfig configures the Anthropic provider.
type AnthropicModelConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OpenAIModelConfig configures the OpenAI provider.
type OpenAIModelConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// BedrockModelConfig holds AWS Bedrock settings. The kernel has no Bedrock
// provider client, so these values are loaded but not used.
type BedrockModelConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

// EventLogConfig configures the Event Log component.
type EventLogConfig struct {
	Backend        Backend `yaml:"backend"`
	SubscribeBatch int     `yaml:"subscribe_batch"`
}

// MemoryConfig configures the Memory Substrate component.
type MemoryConfig struct {
	Backend          Backend `yaml:"backend"`
	EmbeddingDim     int     `yaml:"embedding_dim"`
	ContextPackLimit int     `yaml:"context_pack_limit"`
}

// RevisionConfig configures the Revision Store component.
type RevisionConfig struct {
	Backend Backend `yaml:"backend"`
}

// SchedulerConfig configures the Work Scheduler component.
type SchedulerConfig struct {
	Backend          Backend       `yaml:"backend"`
	DefaultLease     time.Duration `yaml:"default_lease"`
	MaxRetries       int           `yaml:"max_retries"`
	HeartbeatPeriod  time.Duration `yaml:"heartbeat_period"`
	WorkerPoolBucket string        `yaml:"worker_pool_bucket"`
}

// HarnessConfig configures the Actor Harness component.
type HarnessConfig struct {
	Backend             Backend `yaml:"backend"`
	ConductorMaxSteps   int     `yaml:"conductor_max_steps"`
	WorkerMaxSteps      int     `yaml:"worker_max_steps"`
	MaxRecurseDepth     int     `yaml:"max_recurse_depth"`
	DefaultTimeBudgetMs int64   `yaml:"default_time_budget_ms"`
}

// Default returns a Config populated with the kernel's built-in defaults,
// suitable for local development against in-memory backends.
func Default() Config {
	return Config{
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "choiros",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "choiros-kernel",
		},
		Model: ModelConfig{
			DefaultProvider: "anthropic",
			RateLimitRPS:    5,
		},
		EventLog: EventLogConfig{
			Backend:        BackendMemory,
			SubscribeBatch: 256,
		},
		Memory: MemoryConfig{
			Backend:          BackendMemory,
			EmbeddingDim:     1536,
			ContextPackLimit: 32,
		},
		Revision: RevisionConfig{
			Backend: BackendMemory,
		},
		Scheduler: SchedulerConfig{
			Backend:          BackendMemory,
			DefaultLease:     30 * time.Second,
			MaxRetries:       3,
			HeartbeatPeriod:  10 * time.Second,
			WorkerPoolBucket: "choiros.scheduler.workers",
		},
		Harness: HarnessConfig{
			Backend:             BackendMemory,
			ConductorMaxSteps:   64,
			WorkerMaxSteps:      32,
			MaxRecurseDepth:     4,
			DefaultTimeBudgetMs: int64(5 * time.Minute / time.Millisecond),
		},
	}
}

// Load reads a YAML configuration file at path, applying it on top of
// Default(), then applies environment variable overrides, and validates the
// result. A missing file is not an error; defaults plus environment
// overrides are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("kernelconfig: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("kernelconfig: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("kernelconfig: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides layers CHOIROS_-prefixed environment variables on top of
// the loaded configuration. Only the values operators most commonly need to
// override at deploy time (connection strings, credentials, backend
// selection) are exposed this way; structural tunables belong in the file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CHOIROS_MONGO_URI")); v != "" {
		cfg.Mongo.URI = v
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_MONGO_DATABASE")); v != "" {
		cfg.Mongo.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_TEMPORAL_HOST_PORT")); v != "" {
		cfg.Temporal.HostPort = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.Model.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Model.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_EVENT_LOG_BACKEND")); v != "" {
		cfg.EventLog.Backend = Backend(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_MEMORY_BACKEND")); v != "" {
		cfg.Memory.Backend = Backend(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_REVISION_BACKEND")); v != "" {
		cfg.Revision.Backend = Backend(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_SCHEDULER_BACKEND")); v != "" {
		cfg.Scheduler.Backend = Backend(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_HARNESS_BACKEND")); v != "" {
		cfg.Harness.Backend = Backend(v)
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_SCHEDULER_DEFAULT_LEASE")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.DefaultLease = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHOIROS_SCHEDULER_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxRetries = n
		}
	}
}

func (c Config) validate() error {
	if err := c.EventLog.Backend.validate(); err != nil {
		return fmt.Errorf("event_log.backend: %w", err)
	}
	if err := c.Memory.Backend.validate(); err != nil {
		return fmt.Errorf("memory.backend: %w", err)
	}
	if err := c.Revision.Backend.validate(); err != nil {
		return fmt.Errorf("revision.backend: %w", err)
	}
	if err := c.Scheduler.Backend.validate(); err != nil {
		return fmt.Errorf("scheduler.backend: %w", err)
	}
	if err := c.Harness.Backend.validate(); err != nil {
		return fmt.Errorf("harness.backend: %w", err)
	}
	if c.Scheduler.DefaultLease <= 0 {
		return fmt.Errorf("scheduler.default_lease must be positive")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	if c.Harness.ConductorMaxSteps <= 0 {
		return fmt.Errorf("harness.conductor_max_steps must be positive")
	}
	if c.Harness.WorkerMaxSteps <= 0 {
		return fmt.Errorf("harness.worker_max_steps must be positive")
	}
	if c.Harness.MaxRecurseDepth <= 0 {
		return fmt.Errorf("harness.max_recurse_depth must be positive")
	}
	return nil
}

func (b Backend) validate() error {
	switch b {
	case BackendMemory, BackendMongo, BackendPulse, BackendTemporal:
		return nil
	default:
		return fmt.Errorf("unknown backend %q", b)
	}
}
