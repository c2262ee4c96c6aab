package storage

import (
	"context"
	"sync"

	"github.com/lucentlabs/ferry/pkg/models"
)

// MemoryToolServerStore is an in-process ToolServerStore keyed by org.
type MemoryToolServerStore struct {
	mu      sync.RWMutex
	servers map[string][]models.ToolServerConfig
}

// NewMemoryToolServerStore returns an empty MemoryToolServerStore.
func NewMemoryToolServerStore() *MemoryToolServerStore {
	return &MemoryToolServerStore{servers: make(map[string][]models.ToolServerConfig)}
}

func (s *MemoryToolServerStore) List(ctx context.Context, org string) ([]models.ToolServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := s.servers[org]
	out := make([]models.ToolServerConfig, len(servers))
	copy(out, servers)
	return out, nil
}

func (s *MemoryToolServerStore) Replace(ctx context.Context, org string, servers []models.ToolServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]models.ToolServerConfig, len(servers))
	copy(stored, servers)
	s.servers[org] = stored
	return nil
}

// MemoryOrgConfigStore is an in-process OrgConfigStore keyed by org.
type MemoryOrgConfigStore struct {
	mu      sync.RWMutex
	configs map[string]models.OrgConfig
}

// NewMemoryOrgConfigStore returns an empty MemoryOrgConfigStore.
func NewMemoryOrgConfigStore() *MemoryOrgConfigStore {
	return &MemoryOrgConfigStore{configs: make(map[string]models.OrgConfig)}
}

func (s *MemoryOrgConfigStore) Get(ctx context.Context, org string) (models.OrgConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.configs[org]; ok {
		return cfg, nil
	}
	return models.DefaultOrgConfig(), nil
}

func (s *MemoryOrgConfigStore) Set(ctx context.Context, org string, cfg models.OrgConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[org] = cfg
	return nil
}

// MemoryPromptOverrideStore is an in-process PromptOverrideStore keyed by
// "org" (org-wide scope) or "org\x00user" (per-user scope).
type MemoryPromptOverrideStore struct {
	mu        sync.RWMutex
	overrides map[string]models.PromptOverrides
}

// NewMemoryPromptOverrideStore returns an empty MemoryPromptOverrideStore.
func NewMemoryPromptOverrideStore() *MemoryPromptOverrideStore {
	return &MemoryPromptOverrideStore{overrides: make(map[string]models.PromptOverrides)}
}

func overrideKey(org, user string) string {
	if user == "" {
		return org
	}
	return org + "\x00" + user
}

func (s *MemoryPromptOverrideStore) Get(ctx context.Context, org, user string) (models.PromptOverrides, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[overrideKey(org, user)], nil
}

func (s *MemoryPromptOverrideStore) Set(ctx context.Context, org, user string, overrides models.PromptOverrides) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey(org, user)] = sanitizeOverrides(overrides)
	return nil
}

// MemorySessionStore is an in-process session.Store implementation.
type MemorySessionStore struct {
	mu    sync.RWMutex
	state map[models.SessionKey]*models.SessionState
}

// NewMemorySessionStore returns an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{state: make(map[models.SessionKey]*models.SessionState)}
}

func (s *MemorySessionStore) Load(ctx context.Context, key models.SessionKey) (*models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.state[key]; ok {
		clone := *st
		clone.History = append([]models.Exchange(nil), st.History...)
		return &clone, nil
	}
	return nil, nil
}

func (s *MemorySessionStore) Save(ctx context.Context, state *models.SessionState) error {
	if state == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	clone.History = append([]models.Exchange(nil), state.History...)
	s.state[state.Key] = &clone
	return nil
}
