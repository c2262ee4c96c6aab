// Package api implements the thin HTTP surface spec.md §6 names: one unary
// POST endpoint and one SSE GET-equivalent streaming mode over the same
// route, plus health/version checks. Per spec.md §1 Non-goals, routing
// middleware, authentication, and admin CRUD are not implemented here — this
// package assumes a trusted caller sits in front of it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucentlabs/ferry/internal/catalog"
	"github.com/lucentlabs/ferry/internal/config"
	"github.com/lucentlabs/ferry/internal/ferrors"
	"github.com/lucentlabs/ferry/internal/llm"
	"github.com/lucentlabs/ferry/internal/observability"
	"github.com/lucentlabs/ferry/internal/orchestrator"
	"github.com/lucentlabs/ferry/internal/progress"
	"github.com/lucentlabs/ferry/internal/sandbox"
	"github.com/lucentlabs/ferry/internal/session"
	"github.com/lucentlabs/ferry/internal/storage"
	"github.com/lucentlabs/ferry/internal/toolserver"
	"github.com/lucentlabs/ferry/pkg/models"
)

// deliveryModeUnary and deliveryModeStream label the two request modes
// spec.md §6 defines, used for metric/trace labels.
const (
	deliveryModeUnary  = "unary"
	deliveryModeStream = "stream"
)

// Version is set by the build (or left at "dev") and surfaced at GET /version.
var Version = "dev"

// Deps bundles every collaborator the Session Actor needs to serve one
// request; Server holds these for the lifetime of the process.
type Deps struct {
	Config          *config.Config
	Sessions        *session.Manager
	ToolServers     storage.ToolServerStore
	OrgConfigs      storage.OrgConfigStore
	PromptOverrides storage.PromptOverrideStore
	Transport       llm.Transport
	Sandbox         *sandbox.Sandbox
	Logger          *slog.Logger

	// Metrics is optional; when nil, request/run metrics are not recorded.
	// Prometheus metrics auto-register with the default registerer on
	// construction, so callers own a single observability.NewMetrics() for
	// the process rather than NewServer constructing one implicitly.
	Metrics *observability.Metrics
	// Tracer is optional; when nil, NewServer installs a no-op tracer.
	Tracer *observability.Tracer
}

// Server serves the unary/streaming message endpoint and health checks.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer returns a Server backed by deps. Zero-valued optional fields in
// deps.Config take config.Default()'s values.
func NewServer(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "ferry"})
	}
	return &Server{deps: deps, logger: deps.Logger.With("component", "api")}
}

// Routes returns the server's handler, ready to pass to http.ListenAndServe.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"version": Version})
}

var responseLanguagePattern = regexp.MustCompile(`^[a-z]{2}$`)

// validate enforces spec.md §4.8's non-empty-after-trim rule for the three
// required identity/content fields.
func validateRequest(req models.ClientRequest) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return fmt.Errorf("client_id is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := validateRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Org == "" {
		req.Org = s.deps.Config.DefaultOrg
	}

	streaming := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	mode := deliveryModeUnary
	if streaming {
		mode = deliveryModeStream
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RequestReceived(req.Org, mode)
	}

	if streaming {
		s.serveStream(w, r, req)
		return
	}
	s.serveUnary(w, r, req)
}

func (s *Server) serveUnary(w http.ResponseWriter, r *http.Request, req models.ClientRequest) {
	resp, err := s.run(r.Context(), req, progress.Callbacks{}, deliveryModeUnary)
	if err != nil {
		s.logger.Error("orchestration failed", "error", err, "org", req.Org, "user_id", req.UserID)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, req models.ClientRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev models.StreamEvent) {
		body, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "data: %s\n\n", body)
		flusher.Flush()
	}

	cb := progress.Callbacks{
		OnStatus:     func(message string) { send(models.StreamEvent{Type: models.StreamStatus, Message: message}) },
		OnProgress:   func(text string) { send(models.StreamEvent{Type: models.StreamProgress, Text: text}) },
		OnToolUse:    func(tool string, input any) { send(models.StreamEvent{Type: models.StreamToolUse, Tool: tool, Input: input}) },
		OnToolResult: func(tool string, result string, isError bool) { send(models.StreamEvent{Type: models.StreamToolResult, Tool: tool, Result: result}) },
	}

	if req.ProgressCallbackURL != "" {
		mode := req.ProgressMode
		if mode == "" {
			mode = models.ProgressModeComplete
		}
		webhook := progress.NewWebhookSender(req.ProgressCallbackURL, mode, req.ProgressThrottleSeconds, s.logger)
		webhook.SetMetrics(s.deps.Metrics)
		cb = progress.Combine(cb, webhook.Callbacks())
		defer webhook.Stop()
	}

	resp, err := s.run(r.Context(), req, cb, deliveryModeStream)
	if err != nil {
		send(models.StreamEvent{Type: models.StreamError, Error: err.Error()})
		return
	}
	send(models.StreamEvent{Type: models.StreamComplete, Response: resp})
}

// run executes one full Session Actor cycle: load session-scoped state,
// discover the catalog, run the orchestrator, and persist the exchange.
func (s *Server) run(ctx context.Context, req models.ClientRequest, cb progress.Callbacks, mode string) (*models.UnaryResponse, error) {
	key := models.SessionKey{Org: req.Org, User: req.UserID}

	ctx, span := s.deps.Tracer.TraceRequest(ctx, req.Org, mode, req.UserID)
	defer span.End()

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionStarted(req.Org)
		start := requestTime()
		defer func() { s.deps.Metrics.SessionEnded(req.Org, time.Since(start).Seconds()) }()
	}

	var resp models.UnaryResponse

	err := s.deps.Sessions.WithSession(ctx, key, func(state *models.SessionState) error {
		orgCfg, err := s.deps.OrgConfigs.Get(ctx, req.Org)
		if err != nil {
			s.logger.Warn("org config load failed, using defaults", "error", err, "org", req.Org)
			orgCfg = models.DefaultOrgConfig()
		}

		servers, err := s.deps.ToolServers.List(ctx, req.Org)
		if err != nil {
			s.logger.Warn("tool server list load failed, proceeding with no tools", "error", err, "org", req.Org)
			servers = nil
		}

		overrides := s.resolvePromptOverrides(ctx, req.Org, req.UserID)

		manifests := catalog.Discover(ctx, servers, s.client, s.deps.Config.ToolServer.DiscoveryTimeout)
		cat := catalog.Build(servers, manifests, s.logger)

		history := tailHistory(state.History, orgCfg.MaxHistoryLLM)

		orch := orchestrator.New(orchestrator.Config{
			Model:                    s.deps.Config.LLM.Model,
			MaxTokens:                s.deps.Config.LLM.MaxTokens,
			MaxIterations:            s.deps.Config.Orchestrator.MaxIterations,
			CodeExecTimeout:          s.deps.Config.Orchestrator.CodeExecTimeout,
			MaxReentries:             s.deps.Config.Orchestrator.MaxMCPCallsPerExecution,
			MaxResponseBytes:         s.deps.Config.Orchestrator.MaxResponseBytes,
			BudgetLimit:              s.deps.Config.Orchestrator.MaxDownstreamPerRequest,
			DefaultDownstreamPerCall: s.deps.Config.Orchestrator.DefaultDownstreamPerCall,
			DiscoveryTimeout:         s.deps.Config.ToolServer.DiscoveryTimeout,
			InvocationTimeout:        s.deps.Config.ToolServer.InvocationTimeout,
		}, s.deps.Transport, s.deps.Sandbox, s.client, s.logger)

		responses, err := orch.Run(ctx, orchestrator.Request{
			SystemPromptPrefix: renderSystemPrompt(overrides),
			History:            history,
			UserMessage:        req.Message,
			Catalog:            cat,
			Callbacks:          cb,
		})
		if err != nil {
			return err
		}

		assistantText := strings.Join(responses, "\n")
		s.deps.Sessions.RecordExchange(state, models.Exchange{
			UserMessage:   req.Message,
			AssistantText: assistantText,
			Timestamp:     requestTime(),
		})
		state.Preferences.FirstInteraction = false

		lang := state.Preferences.ResponseLanguage
		if !responseLanguagePattern.MatchString(lang) {
			lang = "en"
		}

		resp = models.UnaryResponse{Responses: responses, ResponseLanguage: lang, VoiceAudioBase64: nil}
		cb.EmitComplete(resp)
		return nil
	})
	if err != nil {
		cb.EmitError(err)
		s.deps.Tracer.RecordError(span, err)
		if s.deps.Metrics != nil {
			errType := "run_failed"
			if ferr, ok := ferrors.As(err); ok {
				errType = string(ferr.Kind)
			}
			s.deps.Metrics.RecordError("orchestrator", errType)
			s.deps.Metrics.RecordRunAttempt("error")
		}
		if ferr, ok := ferrors.As(err); ok {
			return nil, ferr
		}
		return nil, err
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRunAttempt("success")
	}
	return &resp, nil
}

// resolvePromptOverrides merges organization-wide overrides with user-scoped
// ones, the user's own values winning, per spec.md §6's (user -> org ->
// default) resolution order.
func (s *Server) resolvePromptOverrides(ctx context.Context, org, user string) models.PromptOverrides {
	if s.deps.PromptOverrides == nil {
		return nil
	}

	merged := models.PromptOverrides{}
	if orgWide, err := s.deps.PromptOverrides.Get(ctx, org, ""); err != nil {
		s.logger.Warn("org-wide prompt override load failed", "error", err, "org", org)
	} else {
		for slot, value := range orgWide {
			merged[slot] = value
		}
	}

	if userScoped, err := s.deps.PromptOverrides.Get(ctx, org, user); err != nil {
		s.logger.Warn("user prompt override load failed", "error", err, "org", org)
	} else {
		for slot, value := range userScoped {
			merged[slot] = value
		}
	}

	return merged
}

func (s *Server) client(server models.ToolServerConfig) *toolserver.Client {
	return toolserver.New(server, s.deps.Config.ToolServer.InvocationTimeout)
}

// tailHistory returns at most n most recent exchanges.
func tailHistory(history []models.Exchange, n int) []models.Exchange {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func renderSystemPrompt(overrides models.PromptOverrides) string {
	if len(overrides) == 0 {
		return ""
	}
	var b strings.Builder
	for slot, text := range overrides {
		b.WriteString(slot)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

// requestTime is a var so tests can substitute a fixed clock.
var requestTime = time.Now
