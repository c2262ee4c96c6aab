package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lucentlabs/ferry/pkg/models"
)

// SQLiteStores bundles every storage contract behind a single pure-Go
// SQLite database, for a single-node deployment. modernc.org/sqlite is used
// instead of mattn/go-sqlite3 so the binary stays cgo-free, mirroring the
// teacher's preference for the pure-Go driver in its newer code.
type SQLiteStores struct {
	ToolServers     *sqliteToolServerStore
	OrgConfigs      *sqliteOrgConfigStore
	PromptOverrides *sqlitePromptOverrideStore
	Sessions        *sqliteSessionStore

	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite database at path and
// runs its schema migrations.
func OpenSQLite(path string) (*SQLiteStores, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; avoid SQLITE_BUSY churn.

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	if err := sqliteMigrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStores{
		ToolServers:     &sqliteToolServerStore{db: db},
		OrgConfigs:      &sqliteOrgConfigStore{db: db},
		PromptOverrides: &sqlitePromptOverrideStore{db: db},
		Sessions:        &sqliteSessionStore{db: db},
		db:              db,
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStores) Close() error { return s.db.Close() }

func sqliteMigrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tool_servers (
			org TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			auth_token TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			allowed_tools TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (org, id)
		)`,
		`CREATE TABLE IF NOT EXISTS org_configs (
			org TEXT PRIMARY KEY,
			max_history_storage INTEGER NOT NULL,
			max_history_llm INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_overrides (
			org TEXT NOT NULL,
			user TEXT NOT NULL DEFAULT '',
			overrides TEXT NOT NULL,
			PRIMARY KEY (org, user)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			org TEXT NOT NULL,
			user TEXT NOT NULL,
			state TEXT NOT NULL,
			PRIMARY KEY (org, user)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

type sqliteToolServerStore struct{ db *sql.DB }

func (s *sqliteToolServerStore) List(ctx context.Context, org string) ([]models.ToolServerConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, auth_token, enabled, priority, allowed_tools
		 FROM tool_servers WHERE org = ? ORDER BY priority ASC`, org)
	if err != nil {
		return nil, fmt.Errorf("storage: list tool servers: %w", err)
	}
	defer rows.Close()

	var out []models.ToolServerConfig
	for rows.Next() {
		var c models.ToolServerConfig
		var enabled int
		var allowedJSON string
		if err := rows.Scan(&c.ID, &c.Name, &c.URL, &c.AuthToken, &enabled, &c.Priority, &allowedJSON); err != nil {
			return nil, fmt.Errorf("storage: scan tool server: %w", err)
		}
		c.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(allowedJSON), &c.AllowedTools); err != nil {
			return nil, fmt.Errorf("storage: decode allowed_tools: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteToolServerStore) Replace(ctx context.Context, org string, servers []models.ToolServerConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_servers WHERE org = ?`, org); err != nil {
		return fmt.Errorf("storage: clear tool servers: %w", err)
	}
	for _, c := range servers {
		allowedJSON, err := json.Marshal(c.AllowedTools)
		if err != nil {
			return fmt.Errorf("storage: encode allowed_tools: %w", err)
		}
		enabled := 0
		if c.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_servers (org, id, name, url, auth_token, enabled, priority, allowed_tools)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			org, c.ID, c.Name, c.URL, c.AuthToken, enabled, c.Priority, string(allowedJSON)); err != nil {
			return fmt.Errorf("storage: insert tool server: %w", err)
		}
	}
	return tx.Commit()
}

type sqliteOrgConfigStore struct{ db *sql.DB }

func (s *sqliteOrgConfigStore) Get(ctx context.Context, org string) (models.OrgConfig, error) {
	var cfg models.OrgConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT max_history_storage, max_history_llm FROM org_configs WHERE org = ?`, org,
	).Scan(&cfg.MaxHistoryStorage, &cfg.MaxHistoryLLM)
	if err == sql.ErrNoRows {
		return models.DefaultOrgConfig(), nil
	}
	if err != nil {
		return models.OrgConfig{}, fmt.Errorf("storage: get org config: %w", err)
	}
	return cfg, nil
}

func (s *sqliteOrgConfigStore) Set(ctx context.Context, org string, cfg models.OrgConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_configs (org, max_history_storage, max_history_llm) VALUES (?, ?, ?)
		 ON CONFLICT(org) DO UPDATE SET max_history_storage = excluded.max_history_storage, max_history_llm = excluded.max_history_llm`,
		org, cfg.MaxHistoryStorage, cfg.MaxHistoryLLM)
	if err != nil {
		return fmt.Errorf("storage: set org config: %w", err)
	}
	return nil
}

type sqlitePromptOverrideStore struct{ db *sql.DB }

func (s *sqlitePromptOverrideStore) Get(ctx context.Context, org, user string) (models.PromptOverrides, error) {
	var overridesJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT overrides FROM prompt_overrides WHERE org = ? AND user = ?`, org, user,
	).Scan(&overridesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get prompt overrides: %w", err)
	}
	var out models.PromptOverrides
	if err := json.Unmarshal([]byte(overridesJSON), &out); err != nil {
		return nil, fmt.Errorf("storage: decode prompt overrides: %w", err)
	}
	return out, nil
}

func (s *sqlitePromptOverrideStore) Set(ctx context.Context, org, user string, overrides models.PromptOverrides) error {
	encoded, err := json.Marshal(sanitizeOverrides(overrides))
	if err != nil {
		return fmt.Errorf("storage: encode prompt overrides: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompt_overrides (org, user, overrides) VALUES (?, ?, ?)
		 ON CONFLICT(org, user) DO UPDATE SET overrides = excluded.overrides`,
		org, user, string(encoded))
	if err != nil {
		return fmt.Errorf("storage: set prompt overrides: %w", err)
	}
	return nil
}

type sqliteSessionStore struct{ db *sql.DB }

func (s *sqliteSessionStore) Load(ctx context.Context, key models.SessionKey) (*models.SessionState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE org = ? AND user = ?`, key.Org, key.User,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load session: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("storage: decode session: %w", err)
	}
	return &state, nil
}

func (s *sqliteSessionStore) Save(ctx context.Context, state *models.SessionState) error {
	if state == nil {
		return nil
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (org, user, state) VALUES (?, ?, ?)
		 ON CONFLICT(org, user) DO UPDATE SET state = excluded.state`,
		state.Key.Org, state.Key.User, string(encoded))
	if err != nil {
		return fmt.Errorf("storage: save session: %w", err)
	}
	return nil
}
