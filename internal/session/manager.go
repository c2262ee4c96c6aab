package session

import (
	"context"
	"fmt"

	"github.com/lucentlabs/ferry/pkg/models"
)

// Store persists session state across requests. Reference implementations
// live in internal/storage.
type Store interface {
	Load(ctx context.Context, key models.SessionKey) (*models.SessionState, error)
	Save(ctx context.Context, state *models.SessionState) error
}

// Manager serializes and persists per-session state.
type Manager struct {
	locks           *LockManager
	store           Store
	historyCapacity int
}

// NewManager returns a Manager backed by store, bounding per-session history
// to historyCapacity exchanges.
func NewManager(store Store, locks *LockManager, historyCapacity int) *Manager {
	if historyCapacity <= 0 {
		historyCapacity = 50
	}
	return &Manager{locks: locks, store: store, historyCapacity: historyCapacity}
}

// WithSession acquires key's exclusive lock, loads (or creates) its state,
// runs fn against the mutable state, persists the result, and releases the
// lock — guaranteeing no two requests for the same session interleave.
func (m *Manager) WithSession(ctx context.Context, key models.SessionKey, fn func(*models.SessionState) error) error {
	release, err := m.locks.Acquire(ctx, key.String())
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	defer release()

	state, err := m.store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("session: load failed: %w", err)
	}
	if state == nil {
		state = models.NewSessionState(key)
	}

	if err := fn(state); err != nil {
		return err
	}

	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("session: save failed: %w", err)
	}
	return nil
}

// RecordExchange appends one user/assistant turn to state's bounded history.
func (m *Manager) RecordExchange(state *models.SessionState, exchange models.Exchange) {
	state.AppendExchange(exchange, m.historyCapacity)
}
