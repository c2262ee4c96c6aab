// Package orchestrator implements the bounded LM<->tool loop: the central
// per-request algorithm that calls the LM, resolves its tool-use requests
// against the catalog or the sandbox, enforces budget and health gates, and
// assembles the final textual response.
package orchestrator

import "time"

// Config bounds one orchestrator run. Defaults match spec.md §4.7/§6.
type Config struct {
	Model                    string
	MaxTokens                int
	MaxIterations            int
	CodeExecTimeout          time.Duration
	MaxReentries             int
	MaxResponseBytes         int64
	BudgetLimit              int
	DefaultDownstreamPerCall int
	DiscoveryTimeout         time.Duration
	InvocationTimeout        time.Duration
}

// DefaultConfig matches spec.md §4.7/§6's enumerated defaults.
func DefaultConfig() Config {
	return Config{
		Model:                    "claude-sonnet-4-20250514",
		MaxTokens:                4096,
		MaxIterations:            10,
		CodeExecTimeout:          30 * time.Second,
		MaxReentries:             10,
		MaxResponseBytes:         1048576,
		BudgetLimit:              120,
		DefaultDownstreamPerCall: 12,
		DiscoveryTimeout:         10 * time.Second,
		InvocationTimeout:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.CodeExecTimeout <= 0 {
		c.CodeExecTimeout = d.CodeExecTimeout
	}
	if c.MaxReentries <= 0 {
		c.MaxReentries = d.MaxReentries
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = d.MaxResponseBytes
	}
	if c.BudgetLimit <= 0 {
		c.BudgetLimit = d.BudgetLimit
	}
	if c.DefaultDownstreamPerCall <= 0 {
		c.DefaultDownstreamPerCall = d.DefaultDownstreamPerCall
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if c.InvocationTimeout <= 0 {
		c.InvocationTimeout = d.InvocationTimeout
	}
	return c
}
