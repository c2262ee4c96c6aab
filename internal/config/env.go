package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides mutates cfg in place from the enumerated environment
// variables (spec.md §6). Unlike the nested-document config file, these are
// flat scalars, so each one is looked up and parsed independently rather than
// merged as a raw map.
func applyEnvOverrides(cfg *Config) {
	envInt("MAX_ORCHESTRATION_ITERATIONS", &cfg.Orchestrator.MaxIterations)
	envDurationMs("CODE_EXEC_TIMEOUT_MS", &cfg.Orchestrator.CodeExecTimeout)
	envInt("MAX_MCP_CALLS_PER_EXECUTION", &cfg.Orchestrator.MaxMCPCallsPerExecution)
	envInt("MAX_DOWNSTREAM_CALLS_PER_REQUEST", &cfg.Orchestrator.MaxDownstreamPerRequest)
	envInt("DEFAULT_DOWNSTREAM_PER_MCP_CALL", &cfg.Orchestrator.DefaultDownstreamPerCall)
	envInt64("MAX_MCP_RESPONSE_SIZE_BYTES", &cfg.Orchestrator.MaxResponseBytes)
	envString("CLAUDE_MODEL", &cfg.LLM.Model)
	envInt("CLAUDE_MAX_TOKENS", &cfg.LLM.MaxTokens)
	envDurationMs("ADMIN_RATE_LIMIT_WINDOW_MS", &cfg.AdminRate.Window)
	envInt("ADMIN_RATE_LIMIT_MAX", &cfg.AdminRate.Max)
	envString("DEFAULT_ORG", &cfg.DefaultOrg)
	envString("HOST", &cfg.Server.Host)
	envInt("PORT", &cfg.Server.Port)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("LOG_LEVEL", &cfg.LogLevel)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envInt64(name string, dst *int64) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func envDurationMs(name string, dst *time.Duration) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Millisecond
	}
}
