package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucentlabs/ferry/internal/api"
	"github.com/lucentlabs/ferry/internal/config"
	"github.com/lucentlabs/ferry/internal/llm"
	"github.com/lucentlabs/ferry/internal/observability"
	"github.com/lucentlabs/ferry/internal/sandbox"
	"github.com/lucentlabs/ferry/internal/session"
	"github.com/lucentlabs/ferry/internal/storage"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ferry HTTP server",
		Long: `Start the ferry HTTP server.

The server will:
1. Load configuration from the specified file (or ferry.yaml)
2. Open the configured storage backend (in-memory, SQLite, or Postgres)
3. Initialize the Anthropic LM transport, falling back to Bedrock if configured
4. Serve the unary/streaming message endpoint and health checks

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("FERRY_CONFIG"), "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if configPath == "" {
		configPath = "ferry.yaml"
	}
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	logger := slog.Default()

	logger.Info("starting ferry", "version", version, "commit", commit, "config", configPath)

	stores, closeStores, err := openStores(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer closeStores()

	transport, err := buildTransport()
	if err != nil {
		return fmt.Errorf("failed to initialize LM transport: %w", err)
	}

	sb := sandbox.New(sandbox.DefaultPoolConfig(), logger)
	defer sb.Close()

	sessions := session.NewManager(stores.Sessions, session.NewLockManager(session.DefaultLockTimeout), cfg.Session.DefaultHistoryCapacity)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "ferry",
		ServiceVersion: version,
		Environment:    os.Getenv("FERRY_ENV"),
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	server := api.NewServer(api.Deps{
		Config:          cfg,
		Sessions:        sessions,
		ToolServers:     stores.ToolServers,
		OrgConfigs:      stores.OrgConfigs,
		PromptOverrides: stores.PromptOverrides,
		Transport:       transport,
		Sandbox:         sb,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tracer,
	})
	api.Version = version

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Routes()}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ferry listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("ferry stopped gracefully")
	return nil
}

// storeBundle is the minimal interface runServe needs regardless of which
// concrete backend openStores picked.
type storeBundle struct {
	ToolServers     storage.ToolServerStore
	OrgConfigs      storage.OrgConfigStore
	PromptOverrides storage.PromptOverrideStore
	Sessions        session.Store
}

// openStores selects a storage backend from dsn: empty uses in-memory
// stores (the test/default backend), a postgres://-prefixed DSN opens
// Postgres/CockroachDB, and anything else is treated as a SQLite file path.
func openStores(dsn string) (storeBundle, func(), error) {
	switch {
	case dsn == "":
		return storeBundle{
			ToolServers:     storage.NewMemoryToolServerStore(),
			OrgConfigs:      storage.NewMemoryOrgConfigStore(),
			PromptOverrides: storage.NewMemoryPromptOverrideStore(),
			Sessions:        storage.NewMemorySessionStore(),
		}, func() {}, nil

	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		stores, err := storage.OpenPostgres(dsn, nil)
		if err != nil {
			return storeBundle{}, nil, err
		}
		return storeBundle{
			ToolServers:     stores.ToolServers,
			OrgConfigs:      stores.OrgConfigs,
			PromptOverrides: stores.PromptOverrides,
			Sessions:        stores.Sessions,
		}, func() { _ = stores.Close() }, nil

	default:
		stores, err := storage.OpenSQLite(dsn)
		if err != nil {
			return storeBundle{}, nil, err
		}
		return storeBundle{
			ToolServers:     stores.ToolServers,
			OrgConfigs:      stores.OrgConfigs,
			PromptOverrides: stores.PromptOverrides,
			Sessions:        stores.Sessions,
		}, func() { _ = stores.Close() }, nil
	}
}

// buildTransport wires the Anthropic provider as primary, adding Bedrock as
// a fallback when AWS credentials are configured.
func buildTransport() (llm.Transport, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	primary, err := llm.NewAnthropicProvider(llm.AnthropicConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}

	region := os.Getenv("AWS_REGION")
	if region == "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		return primary, nil
	}

	secondary, err := llm.NewBedrockProvider(context.Background(), llm.BedrockConfig{
		Region:          region,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	})
	if err != nil {
		slog.Warn("bedrock fallback unavailable, using anthropic only", "error", err)
		return primary, nil
	}

	return llm.NewFailoverTransport(llm.DefaultFailoverConfig(), primary, secondary), nil
}
