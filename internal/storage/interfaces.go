// Package storage provides reference collaborators for the three external
// storage contracts spec.md §6 declares out of scope: the per-organization
// tool-server set, per-organization history-capacity configuration, and
// per-organization/user prompt overrides. It also backs the Session Actor's
// own session.Store contract, since a complete repository needs something
// concrete behind that interface to run and test against.
//
// Three implementations are provided for every contract: an in-memory map
// (tests, and the default when no DSN is configured), a SQLite-backed store
// (modernc.org/sqlite, pure Go, single-node deployments), and a
// Postgres-backed store (lib/pq, clustered deployments — CockroachDB speaks
// the same wire protocol).
package storage

import (
	"context"
	"errors"

	"github.com/lucentlabs/ferry/pkg/models"
)

// ErrNotFound is returned by Get-style lookups that found nothing. Per
// spec.md §6, tool-server and org-config reads return zero-value defaults on
// miss rather than propagating this error to the caller — it exists for
// stores where distinguishing "absent" from "empty" matters internally.
var ErrNotFound = errors.New("storage: not found")

// ToolServerStore persists the ordered, per-organization tool-server set.
// A miss (or a read error) MUST be treated by the caller as an empty set,
// per spec.md §6 ("read returns [] on miss or read error") — this interface
// surfaces the error so the Session Actor can log a warning and substitute
// the default rather than fail the request.
type ToolServerStore interface {
	List(ctx context.Context, org string) ([]models.ToolServerConfig, error)
	Replace(ctx context.Context, org string, servers []models.ToolServerConfig) error
}

// OrgConfigStore persists per-organization history-capacity configuration.
type OrgConfigStore interface {
	Get(ctx context.Context, org string) (models.OrgConfig, error)
	Set(ctx context.Context, org string, cfg models.OrgConfig) error
}

// PromptOverrideStore persists named prompt-slot overrides, scoped either to
// an organization or to one user within it. Resolution order (user -> org ->
// hardcoded default) is the caller's responsibility; this store only knows
// how to read and write one scope at a time.
type PromptOverrideStore interface {
	// Get returns the override map for the given scope. user == "" selects
	// the organization-wide scope.
	Get(ctx context.Context, org, user string) (models.PromptOverrides, error)
	Set(ctx context.Context, org, user string, overrides models.PromptOverrides) error
}

// SessionStore satisfies session.Store: load/save of the full persisted
// session record for one key. Declared here (rather than imported from
// internal/session) to keep internal/storage free of a dependency on
// internal/session — cmd/ferry wires the two together structurally.
type SessionStore interface {
	Load(ctx context.Context, key models.SessionKey) (*models.SessionState, error)
	Save(ctx context.Context, state *models.SessionState) error
}

// maxSlotChars bounds one prompt-override slot per spec.md §6.
const maxSlotChars = 4000

// sanitizeOverrides strips control characters and truncates each slot to
// maxSlotChars, matching spec.md §6's "control characters stripped on merge"
// requirement. Applied uniformly by every implementation so callers get the
// same behavior regardless of backend.
func sanitizeOverrides(in models.PromptOverrides) models.PromptOverrides {
	out := make(models.PromptOverrides, len(in))
	for slot, value := range in {
		out[slot] = sanitizeSlot(value)
	}
	return out
}

func sanitizeSlot(value string) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if r == '\n' || r == '\t' || r >= 0x20 {
			cleaned = append(cleaned, r)
		}
	}
	s := string(cleaned)
	if len(s) > maxSlotChars {
		s = s[:maxSlotChars]
	}
	return s
}
