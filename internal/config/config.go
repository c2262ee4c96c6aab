// Package config loads and validates the engine's configuration: a YAML file
// of structured defaults overridden by the enumerated environment variables.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// OrchestratorConfig holds the bounded-loop knobs from spec.md §4.7/§6.
type OrchestratorConfig struct {
	MaxIterations            int           `yaml:"max_iterations"`
	CodeExecTimeout          time.Duration `yaml:"code_exec_timeout"`
	MaxMCPCallsPerExecution  int           `yaml:"max_mcp_calls_per_execution"`
	MaxDownstreamPerRequest  int           `yaml:"max_downstream_per_request"`
	DefaultDownstreamPerCall int           `yaml:"default_downstream_per_call"`
	MaxResponseBytes         int64         `yaml:"max_response_bytes"`
}

// LLMConfig selects the default model and token ceiling for the LM Transport.
type LLMConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// AdminRateLimitConfig bounds the admin endpoints the Session Actor may colocate.
type AdminRateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// SessionConfig bounds the history retained per session.
type SessionConfig struct {
	DefaultHistoryCapacity int `yaml:"default_history_capacity"`
}

// SandboxConfig governs the discovery/invocation timeouts outside the per-request override.
type ToolServerConfig struct {
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
}

// ServerConfig binds the HTTP surface cmd/ferry listens on.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the complete set of tunables for the engine, loaded once at startup.
type Config struct {
	DefaultOrg   string               `yaml:"default_org"`
	Orchestrator OrchestratorConfig   `yaml:"orchestrator"`
	LLM          LLMConfig            `yaml:"llm"`
	AdminRate    AdminRateLimitConfig `yaml:"admin_rate_limit"`
	Session      SessionConfig        `yaml:"session"`
	ToolServer   ToolServerConfig     `yaml:"tool_server"`
	Server       ServerConfig         `yaml:"server"`

	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the configuration matching spec.md §6's enumerated defaults.
func Default() *Config {
	return &Config{
		DefaultOrg: "default",
		Orchestrator: OrchestratorConfig{
			MaxIterations:            10,
			CodeExecTimeout:          30 * time.Second,
			MaxMCPCallsPerExecution:  10,
			MaxDownstreamPerRequest:  120,
			DefaultDownstreamPerCall: 12,
			MaxResponseBytes:         1048576,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		AdminRate: AdminRateLimitConfig{
			Window: 60 * time.Second,
			Max:    100,
		},
		Session: SessionConfig{
			DefaultHistoryCapacity: 50,
		},
		ToolServer: ToolServerConfig{
			DiscoveryTimeout:  10 * time.Second,
			InvocationTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LogLevel: "info",
	}
}

// Load reads path (if it exists) over the defaults, then applies environment
// variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would violate spec.md's documented bounds.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxIterations < 1 {
		return errInvalid("orchestrator.max_iterations must be >= 1")
	}
	if c.Session.DefaultHistoryCapacity < 1 || c.Session.DefaultHistoryCapacity > 100 {
		return errInvalid("session.default_history_capacity must be in [1, 100]")
	}
	if c.Orchestrator.MaxResponseBytes <= 0 {
		return errInvalid("orchestrator.max_response_bytes must be > 0")
	}
	return nil
}
