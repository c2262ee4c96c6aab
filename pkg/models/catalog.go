package models

import "encoding/json"

// ToolServerConfig describes one remote tool server registered for an organization.
type ToolServerConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	AuthToken     string   `json:"auth_token,omitempty"`
	Enabled       bool     `json:"enabled"`
	Priority      int      `json:"priority"`
	AllowedTools  []string `json:"allowed_tools,omitempty"`
}

// CatalogTool is one entry in a request's merged tool catalog.
type CatalogTool struct {
	// Name is the published name: the bare tool name, or a server-prefixed
	// name when a bare-name collision was resolved.
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	ServerID    string          `json:"server_id"`
	ServerURL   string          `json:"server_url"`

	// OriginalName is the tool's name as published by its own server,
	// before any collision-prefixing.
	OriginalName string `json:"original_name"`
}

// DiscoveredManifest is the outcome of querying one server's tools/list method.
type DiscoveredManifest struct {
	ServerID string
	Tools    []RawTool
	Err      error
}

// RawTool is a tool entry as returned verbatim by a tool server.
type RawTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}
