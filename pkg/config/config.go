// Package config defines the gateway configuration model and its loading
// pipeline: read bytes from a provider, parse YAML/JSON, expand environment
// variables, decode, apply defaults, validate.
package config

import (
	"fmt"
)

// Config is the root configuration for the gateway.
type Config struct {
	// Environment is "development" or "production". Development responses
	// may include internal error details; production never does.
	Environment string `yaml:"environment" mapstructure:"environment"`

	Server        ServerConfig                    `yaml:"server" mapstructure:"server"`
	Auth          AuthConfig                      `yaml:"auth" mapstructure:"auth"`
	RateLimit     RateLimitConfig                 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Observability ObservabilityConfig             `yaml:"observability" mapstructure:"observability"`
	Providers     map[string]*ModelProviderConfig `yaml:"providers" mapstructure:"providers"`
	Agent         AgentLimits                     `yaml:"agent" mapstructure:"agent"`
	Enhancement   EnhancementConfig               `yaml:"enhancement" mapstructure:"enhancement"`

	// EncryptionKey is the base64-encoded 32-byte key for credential
	// envelopes. Usually supplied via TORII_ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string   `yaml:"host" mapstructure:"host"`
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig configures caller authentication. When disabled, all requests
// pass through anonymously.
type AuthConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// JWKSURL enables asymmetric validation against a provider's key set.
	JWKSURL  string `yaml:"jwks_url" mapstructure:"jwks_url"`
	Issuer   string `yaml:"issuer" mapstructure:"issuer"`
	Audience string `yaml:"audience" mapstructure:"audience"`

	// Secret enables HS256 validation when no JWKS URL is configured.
	Secret string `yaml:"secret" mapstructure:"secret"`
}

// RateLimitRule is one windowed request budget.
type RateLimitRule struct {
	Window string `yaml:"window" mapstructure:"window"` // minute, hour, day
	Limit  int64  `yaml:"limit" mapstructure:"limit"`
}

// RateLimitConfig configures caller-side rate limiting.
type RateLimitConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Rules   []RateLimitRule `yaml:"rules" mapstructure:"rules"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL  string  `yaml:"endpoint_url" mapstructure:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate" mapstructure:"sampling_rate"`
	ServiceName  string  `yaml:"service_name" mapstructure:"service_name"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// ModelProviderConfig configures one model vendor. The map key in
// Config.Providers is the provider identifier requests refer to
// (openai, anthropic, gemini, ollama).
type ModelProviderConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Host   string `yaml:"host" mapstructure:"host"`

	// Models is the allow-list for this provider. Requests naming a model
	// outside this list are rejected with INVALID_MODEL.
	Models []string `yaml:"models" mapstructure:"models"`

	Timeout    int `yaml:"timeout" mapstructure:"timeout"`         // seconds
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"` // attempts beyond the first
	RetryDelay int `yaml:"retry_delay" mapstructure:"retry_delay"` // seconds
}

// AgentLimits bounds the agent loop and the event stream.
type AgentLimits struct {
	MaxIterations      int `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxWallTimeSeconds int `yaml:"max_wall_time_seconds" mapstructure:"max_wall_time_seconds"`
	HistoryTokenBudget int `yaml:"history_token_budget" mapstructure:"history_token_budget"`
	EventBufferSize    int `yaml:"event_buffer_size" mapstructure:"event_buffer_size"`
	EventIdleSeconds   int `yaml:"event_idle_seconds" mapstructure:"event_idle_seconds"`
}

// EnhancementConfig configures the one-shot prompt rewrite.
type EnhancementConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxInput    int     `yaml:"max_input" mapstructure:"max_input"` // runes
}

// Reference model allow-lists applied when a provider is configured without
// an explicit list.
var defaultModels = map[string][]string{
	"openai": {
		"gpt-4.1",
		"gpt-4.1-mini",
		"gpt-4.1-nano",
	},
	"anthropic": {
		"claude-sonnet-4-5-20250929",
		"claude-haiku-4-5-20251001",
		"claude-opus-4-1-20250805",
	},
	"gemini": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
	},
}

// DefaultModels returns the reference allow-list for a provider, or nil.
func DefaultModels(provider string) []string {
	models := defaultModels[provider]
	out := make([]string, len(models))
	copy(out, models)
	return out
}

// SetDefaults fills zero values in place.
func (c *Config) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}

	if c.RateLimit.Enabled && len(c.RateLimit.Rules) == 0 {
		c.RateLimit.Rules = []RateLimitRule{{Window: "minute", Limit: 60}}
	}

	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = 1.0
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "torii"
	}

	for name, p := range c.Providers {
		if p == nil {
			continue
		}
		if len(p.Models) == 0 {
			p.Models = DefaultModels(name)
		}
		if p.Timeout == 0 {
			p.Timeout = 120
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
		}
		if p.RetryDelay == 0 {
			p.RetryDelay = 2
		}
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MaxWallTimeSeconds == 0 {
		c.Agent.MaxWallTimeSeconds = 120
	}
	if c.Agent.HistoryTokenBudget == 0 {
		c.Agent.HistoryTokenBudget = 6000
	}
	if c.Agent.EventBufferSize == 0 {
		c.Agent.EventBufferSize = 100
	}
	if c.Agent.EventIdleSeconds == 0 {
		c.Agent.EventIdleSeconds = 60
	}

	if c.Enhancement.Provider == "" {
		c.Enhancement.Provider = c.fallbackEnhancementProvider()
	}
	if c.Enhancement.Model == "" {
		if p, ok := c.Providers[c.Enhancement.Provider]; ok && p != nil && len(p.Models) > 0 {
			c.Enhancement.Model = p.Models[0]
		} else {
			c.Enhancement.Model = "gpt-4.1"
		}
	}
	if c.Enhancement.Temperature == 0 {
		c.Enhancement.Temperature = 0.7
	}
	if c.Enhancement.MaxTokens == 0 {
		c.Enhancement.MaxTokens = 2000
	}
	if c.Enhancement.MaxInput == 0 {
		c.Enhancement.MaxInput = 5000
	}
}

// fallbackEnhancementProvider picks a configured provider for prompt
// enhancement when none is set explicitly, so single-provider deployments
// work without extra configuration.
func (c *Config) fallbackEnhancementProvider() string {
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama"} {
		if p, ok := c.Providers[name]; ok && p != nil {
			return name
		}
	}
	return "openai"
}

// Validate checks constraints that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("environment must be development or production, got %q", c.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}

	if c.Auth.Enabled && c.Auth.JWKSURL == "" && c.Auth.Secret == "" {
		return fmt.Errorf("auth enabled but neither jwks_url nor secret configured")
	}

	for _, rule := range c.RateLimit.Rules {
		switch rule.Window {
		case "minute", "hour", "day":
		default:
			return fmt.Errorf("rate limit window must be minute, hour, or day, got %q", rule.Window)
		}
		if rule.Limit <= 0 {
			return fmt.Errorf("rate limit must be positive, got %d", rule.Limit)
		}
	}

	for name, p := range c.Providers {
		if p == nil {
			return fmt.Errorf("provider %q has empty configuration", name)
		}
		switch name {
		case "openai", "anthropic", "gemini", "ollama":
		default:
			return fmt.Errorf("unknown provider %q", name)
		}
		if name != "ollama" && p.APIKey == "" {
			return fmt.Errorf("provider %q requires an api_key", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %q has no models configured", name)
		}
	}

	if _, ok := c.Providers[c.Enhancement.Provider]; len(c.Providers) > 0 && !ok {
		return fmt.Errorf("enhancement provider %q is not configured", c.Enhancement.Provider)
	}

	return nil
}

// HasProvider reports whether the named provider is configured.
func (c *Config) HasProvider(name string) bool {
	p, ok := c.Providers[name]
	return ok && p != nil
}
