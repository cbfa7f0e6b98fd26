// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig      `yaml:"server"`
	Identity      IdentityConfig    `yaml:"identity"`
	Definitions   DefinitionsConfig `yaml:"definitions"`
	Admission     AdmissionConfig   `yaml:"admission"`
	Gateway       GatewayConfig     `yaml:"gateway"`
	Router        RouterConfig      `yaml:"router"`
	Workflow      WorkflowConfig    `yaml:"workflow"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IdentityConfig describes JWT verification settings.
type IdentityConfig struct {
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	SigningKey string   `yaml:"signing_key"`
	Algorithms []string `yaml:"algorithms"`
}

// DefinitionsConfig describes where to find definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// AdmissionConfig describes per-client rate limiting settings.
type AdmissionConfig struct {
	Capacity            float64       `yaml:"capacity"`
	RefillRatePerSecond float64       `yaml:"refill_rate_per_second"`
	ViolationThreshold  int           `yaml:"violation_threshold"`
	ViolationWindow     time.Duration `yaml:"violation_window"`
	PenaltyMultiplier   float64       `yaml:"penalty_multiplier"`
	PenaltyDuration     time.Duration `yaml:"penalty_duration"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

// GatewayConfig describes model providers, task routing, retry, and circuit
// breaker settings.
type GatewayConfig struct {
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Routing     RoutingConfig             `yaml:"routing"`
	Retry       RetryConfig               `yaml:"retry"`
	Breaker     BreakerConfig             `yaml:"breaker"`
	CallTimeout time.Duration             `yaml:"call_timeout"`
}

// ProviderConfig describes one model provider endpoint.
type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RoutingConfig maps task types to (provider, model) routes.
type RoutingConfig struct {
	Routes   map[string]RouteConfig `yaml:"routes"`
	Fallback RouteConfig            `yaml:"fallback"`
}

// RouteConfig names a (provider, model) pair.
type RouteConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RetryConfig describes model call retry settings.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// BreakerConfig describes circuit breaker settings per (provider, model).
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// RouterConfig describes request routing settings.
type RouterConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
	DefaultAgent  string  `yaml:"default_agent"`
	SystemPrompt  string  `yaml:"system_prompt"`
}

// WorkflowConfig describes workflow engine settings.
type WorkflowConfig struct {
	Store                StoreConfig   `yaml:"store"`
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
}

// StoreConfig describes workflow persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // memory or postgres
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int           `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // otlp or stdout
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			Algorithms: []string{"HS256"},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"definitions"},
		},
		Admission: AdmissionConfig{
			Capacity:            60,
			RefillRatePerSecond: 1,
			ViolationThreshold:  5,
			ViolationWindow:     time.Minute,
			PenaltyMultiplier:   4,
			PenaltyDuration:     5 * time.Minute,
			StaleAfter:          time.Hour,
			SweepInterval:       10 * time.Minute,
		},
		Gateway: GatewayConfig{
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         30 * time.Second,
			},
			CallTimeout: 30 * time.Second,
		},
		Router: RouterConfig{
			MinConfidence: 0.5,
			DefaultAgent:  "general-assistant",
			SystemPrompt:  "You are a helpful HR assistant.",
		},
		Workflow: WorkflowConfig{
			TimeoutCheckInterval: 60 * time.Second,
			Store: StoreConfig{
				Driver:          "memory",
				DSNEnv:          "STEWARD_DATABASE_URL",
				MaxConns:        25,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Admission.Capacity <= 0 {
		errs = append(errs, "admission.capacity must be positive")
	}
	if c.Admission.RefillRatePerSecond <= 0 {
		errs = append(errs, "admission.refill_rate_per_second must be positive")
	}
	if c.Gateway.Routing.Fallback.Provider == "" || c.Gateway.Routing.Fallback.Model == "" {
		errs = append(errs, "gateway.routing.fallback must name a provider and model")
	}
	if c.Gateway.Routing.Fallback.Provider != "" {
		if _, ok := c.Gateway.Providers[c.Gateway.Routing.Fallback.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("gateway.routing.fallback provider %q is not configured", c.Gateway.Routing.Fallback.Provider))
		}
	}
	for taskType, route := range c.Gateway.Routing.Routes {
		if _, ok := c.Gateway.Providers[route.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("gateway.routing.routes[%s] provider %q is not configured", taskType, route.Provider))
		}
	}
	if c.Router.MinConfidence < 0 || c.Router.MinConfidence > 1 {
		errs = append(errs, "router.min_confidence must be within [0, 1]")
	}
	switch c.Workflow.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("workflow.store.driver %q must be memory or postgres", c.Workflow.Store.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads STEWARD_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STEWARD_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STEWARD_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("STEWARD_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("STEWARD_IDENTITY_SIGNING_KEY"); v != "" {
		cfg.Identity.SigningKey = v
	}
	if v := os.Getenv("STEWARD_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("STEWARD_WORKFLOW_STORE_DRIVER"); v != "" {
		cfg.Workflow.Store.Driver = v
	}
}
