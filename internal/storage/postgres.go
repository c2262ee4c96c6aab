package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/lucentlabs/ferry/pkg/models"
)

// PostgresStores bundles every storage contract behind a single Postgres
// (or Postgres-wire-compatible, e.g. CockroachDB) database, for a clustered
// deployment. Grounded on the teacher's prepared-statement SQL style.
type PostgresStores struct {
	ToolServers     *postgresToolServerStore
	OrgConfigs      *postgresOrgConfigStore
	PromptOverrides *postgresPromptOverrideStore
	Sessions        *postgresSessionStore

	db *sql.DB
}

// PostgresConfig bounds the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig matches reasonable production-pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// OpenPostgres opens dsn and runs schema migrations.
func OpenPostgres(dsn string, cfg *PostgresConfig) (*PostgresStores, error) {
	if cfg == nil {
		defaults := DefaultPostgresConfig()
		cfg = &defaults
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	if err := postgresMigrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStores{
		ToolServers:     &postgresToolServerStore{db: db},
		OrgConfigs:      &postgresOrgConfigStore{db: db},
		PromptOverrides: &postgresPromptOverrideStore{db: db},
		Sessions:        &postgresSessionStore{db: db},
		db:              db,
	}, nil
}

// Close releases the underlying database handle.
func (s *PostgresStores) Close() error { return s.db.Close() }

func postgresMigrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tool_servers (
			org TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			auth_token TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL,
			priority INTEGER NOT NULL,
			allowed_tools JSONB NOT NULL DEFAULT '[]',
			PRIMARY KEY (org, id)
		)`,
		`CREATE TABLE IF NOT EXISTS org_configs (
			org TEXT PRIMARY KEY,
			max_history_storage INTEGER NOT NULL,
			max_history_llm INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_overrides (
			org TEXT NOT NULL,
			"user" TEXT NOT NULL DEFAULT '',
			overrides JSONB NOT NULL,
			PRIMARY KEY (org, "user")
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			org TEXT NOT NULL,
			"user" TEXT NOT NULL,
			state JSONB NOT NULL,
			PRIMARY KEY (org, "user")
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

type postgresToolServerStore struct{ db *sql.DB }

func (s *postgresToolServerStore) List(ctx context.Context, org string) ([]models.ToolServerConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, auth_token, enabled, priority, allowed_tools
		 FROM tool_servers WHERE org = $1 ORDER BY priority ASC`, org)
	if err != nil {
		return nil, fmt.Errorf("storage: list tool servers: %w", err)
	}
	defer rows.Close()

	var out []models.ToolServerConfig
	for rows.Next() {
		var c models.ToolServerConfig
		var allowedJSON []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.URL, &c.AuthToken, &c.Enabled, &c.Priority, &allowedJSON); err != nil {
			return nil, fmt.Errorf("storage: scan tool server: %w", err)
		}
		if err := json.Unmarshal(allowedJSON, &c.AllowedTools); err != nil {
			return nil, fmt.Errorf("storage: decode allowed_tools: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *postgresToolServerStore) Replace(ctx context.Context, org string, servers []models.ToolServerConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_servers WHERE org = $1`, org); err != nil {
		return fmt.Errorf("storage: clear tool servers: %w", err)
	}
	for _, c := range servers {
		allowedJSON, err := json.Marshal(c.AllowedTools)
		if err != nil {
			return fmt.Errorf("storage: encode allowed_tools: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_servers (org, id, name, url, auth_token, enabled, priority, allowed_tools)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			org, c.ID, c.Name, c.URL, c.AuthToken, c.Enabled, c.Priority, allowedJSON); err != nil {
			return fmt.Errorf("storage: insert tool server: %w", err)
		}
	}
	return tx.Commit()
}

type postgresOrgConfigStore struct{ db *sql.DB }

func (s *postgresOrgConfigStore) Get(ctx context.Context, org string) (models.OrgConfig, error) {
	var cfg models.OrgConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT max_history_storage, max_history_llm FROM org_configs WHERE org = $1`, org,
	).Scan(&cfg.MaxHistoryStorage, &cfg.MaxHistoryLLM)
	if err == sql.ErrNoRows {
		return models.DefaultOrgConfig(), nil
	}
	if err != nil {
		return models.OrgConfig{}, fmt.Errorf("storage: get org config: %w", err)
	}
	return cfg, nil
}

func (s *postgresOrgConfigStore) Set(ctx context.Context, org string, cfg models.OrgConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_configs (org, max_history_storage, max_history_llm) VALUES ($1, $2, $3)
		 ON CONFLICT (org) DO UPDATE SET max_history_storage = excluded.max_history_storage, max_history_llm = excluded.max_history_llm`,
		org, cfg.MaxHistoryStorage, cfg.MaxHistoryLLM)
	if err != nil {
		return fmt.Errorf("storage: set org config: %w", err)
	}
	return nil
}

type postgresPromptOverrideStore struct{ db *sql.DB }

func (s *postgresPromptOverrideStore) Get(ctx context.Context, org, user string) (models.PromptOverrides, error) {
	var overridesJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT overrides FROM prompt_overrides WHERE org = $1 AND "user" = $2`, org, user,
	).Scan(&overridesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get prompt overrides: %w", err)
	}
	var out models.PromptOverrides
	if err := json.Unmarshal(overridesJSON, &out); err != nil {
		return nil, fmt.Errorf("storage: decode prompt overrides: %w", err)
	}
	return out, nil
}

func (s *postgresPromptOverrideStore) Set(ctx context.Context, org, user string, overrides models.PromptOverrides) error {
	encoded, err := json.Marshal(sanitizeOverrides(overrides))
	if err != nil {
		return fmt.Errorf("storage: encode prompt overrides: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompt_overrides (org, "user", overrides) VALUES ($1, $2, $3)
		 ON CONFLICT (org, "user") DO UPDATE SET overrides = excluded.overrides`,
		org, user, encoded)
	if err != nil {
		return fmt.Errorf("storage: set prompt overrides: %w", err)
	}
	return nil
}

type postgresSessionStore struct{ db *sql.DB }

func (s *postgresSessionStore) Load(ctx context.Context, key models.SessionKey) (*models.SessionState, error) {
	var stateJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE org = $1 AND "user" = $2`, key.Org, key.User,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load session: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("storage: decode session: %w", err)
	}
	return &state, nil
}

func (s *postgresSessionStore) Save(ctx context.Context, state *models.SessionState) error {
	if state == nil {
		return nil
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (org, "user", state) VALUES ($1, $2, $3)
		 ON CONFLICT (org, "user") DO UPDATE SET state = excluded.state`,
		state.Key.Org, state.Key.User, encoded)
	if err != nil {
		return fmt.Errorf("storage: save session: %w", err)
	}
	return nil
}
