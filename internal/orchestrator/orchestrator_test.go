package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lucentlabs/ferry/internal/budget"
	"github.com/lucentlabs/ferry/internal/catalog"
	"github.com/lucentlabs/ferry/internal/ferrors"
	"github.com/lucentlabs/ferry/internal/health"
	"github.com/lucentlabs/ferry/internal/llm"
	"github.com/lucentlabs/ferry/internal/progress"
	"github.com/lucentlabs/ferry/internal/sandbox"
	"github.com/lucentlabs/ferry/internal/toolserver"
	"github.com/lucentlabs/ferry/pkg/models"
)

// scriptedTransport replays a fixed sequence of FinalMessages, one per call
// to Complete, so a test can script an exact multi-iteration conversation.
type scriptedTransport struct {
	mu    sync.Mutex
	turns []models.FinalMessage
	calls int
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Complete(ctx context.Context, req models.CompletionRequest, onDelta llm.OnDelta) (models.FinalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.turns[s.calls]
	s.calls++
	return turn, nil
}

func newTestOrchestrator(t *testing.T, turns []models.FinalMessage, servers map[string]*httptest.Server) (*Orchestrator, *catalog.Catalog) {
	t.Helper()

	sb := sandbox.New(sandbox.DefaultPoolConfig(), nil)
	t.Cleanup(sb.Close)

	var serverConfigs []models.ToolServerConfig
	var manifests []models.DiscoveredManifest
	for id, srv := range servers {
		serverConfigs = append(serverConfigs, models.ToolServerConfig{ID: id, Name: id, URL: srv.URL, Enabled: true, Priority: 1})
		manifests = append(manifests, models.DiscoveredManifest{
			ServerID: id,
			Tools: []models.RawTool{
				{Name: "A", InputSchema: json.RawMessage(`{}`)},
				{Name: "B", InputSchema: json.RawMessage(`{}`)},
				{Name: "C", InputSchema: json.RawMessage(`{}`)},
				{Name: "slow", InputSchema: json.RawMessage(`{}`)},
			},
		})
	}
	cat := catalog.Build(serverConfigs, manifests, nil)

	clients := func(server models.ToolServerConfig) *toolserver.Client {
		return toolserver.New(server, 5*time.Second)
	}

	o := New(Config{MaxIterations: 5}, &scriptedTransport{turns: turns}, sb, clients, nil)
	return o, cat
}

func toolUseBlock(id, name string, input string) models.ContentBlock {
	return models.ContentBlock{Type: models.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)}
}

func jsonrpcToolServer(t *testing.T, delayByTool map[string]time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Name string `json:"name"`
			} `json:"params"`
			ID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.Method == "tools/list" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"tools":[]}}`))
			return
		}

		if d, ok := delayByTool[req.Params.Name]; ok {
			time.Sleep(d)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `","result":{"content":[{"type":"text","text":"ok:` + req.Params.Name + `"}]}}`))
	}))
}

func TestRun_ParallelToolUsesPreserveOrder(t *testing.T) {
	srv := jsonrpcToolServer(t, map[string]time.Duration{
		"A": 30 * time.Millisecond,
		"B": 1 * time.Millisecond,
		"C": 15 * time.Millisecond,
	})
	defer srv.Close()

	turns := []models.FinalMessage{
		{
			StopReason: models.StopToolUse,
			Content: []models.ContentBlock{
				toolUseBlock("1", "A", "{}"),
				toolUseBlock("2", "B", "{}"),
				toolUseBlock("3", "C", "{}"),
			},
		},
		{StopReason: models.StopEndTurn, Content: []models.ContentBlock{{Type: models.BlockText, Text: "done"}}},
	}

	o, cat := newTestOrchestrator(t, turns, map[string]*httptest.Server{"s1": srv})

	var mu sync.Mutex
	var order []string
	var progressed []string
	cb := progress.Callbacks{
		OnToolResult: func(tool string, result string, isError bool) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, tool)
		},
		OnProgress: func(text string) {
			mu.Lock()
			defer mu.Unlock()
			progressed = append(progressed, text)
		},
	}

	responses, err := o.Run(context.Background(), Request{UserMessage: "go", Catalog: cat, Callbacks: cb})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(responses) != 1 || responses[0] != "done" {
		t.Fatalf("responses = %v", responses)
	}
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("tool_result order = %v, want [A B C]", order)
	}
	if len(progressed) == 0 || progressed[0] != iterationSeparator {
		t.Fatalf("progress stream = %v, want it to start with the iteration separator before the second iteration", progressed)
	}
}

func TestDispatcher_BudgetExhaustionMidLoop(t *testing.T) {
	srv := jsonrpcToolServer(t, nil)
	defer srv.Close()

	o, cat := newTestOrchestrator(t, nil, map[string]*httptest.Server{"s1": srv})

	b := budget.New(budget.Config{Limit: 30, DefaultPerCall: 10})
	b.RecordCall(&models.CallMeta{DownstreamAPICalls: 25})
	if !b.WouldExceed() {
		t.Fatalf("expected 25+10 > 30 to trip WouldExceed")
	}

	d := &dispatcher{o: o, cat: cat, budget: b, health: health.New()}
	_, ferr := d.call(context.Background(), "A", json.RawMessage(`{}`))
	if ferr == nil {
		t.Fatalf("expected a BudgetExceeded error")
	}
	if ferr.Kind != ferrors.KindBudgetExceeded {
		t.Fatalf("kind = %v, want BudgetExceeded", ferr.Kind)
	}
	if ferr.Actual != 25 || ferr.Limit != 30 {
		t.Fatalf("actual/limit = %d/%d, want 25/30", ferr.Actual, ferr.Limit)
	}
}

func TestRun_CircuitBreakerOpensAfterThreeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	turns := []models.FinalMessage{
		{StopReason: models.StopToolUse, Content: []models.ContentBlock{
			toolUseBlock("1", "A", "{}"),
			toolUseBlock("2", "A", "{}"),
			toolUseBlock("3", "A", "{}"),
		}},
		{StopReason: models.StopToolUse, Content: []models.ContentBlock{toolUseBlock("4", "A", "{}")}},
		{StopReason: models.StopEndTurn, Content: []models.ContentBlock{{Type: models.BlockText, Text: "stop"}}},
	}

	o, cat := newTestOrchestrator(t, turns, map[string]*httptest.Server{"s1": srv})

	var results []string
	var mu sync.Mutex
	cb := progress.Callbacks{OnToolResult: func(tool string, result string, isError bool) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, result)
	}}

	_, err := o.Run(context.Background(), Request{UserMessage: "go", Catalog: cat, Callbacks: cb})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	found := false
	for _, r := range results {
		if r != "" && containsUnhealthy(r) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a ServerUnhealthy result among %v", results)
	}
}

func containsUnhealthy(s string) bool {
	for i := 0; i+len("unhealthy") <= len(s); i++ {
		if s[i:i+len("unhealthy")] == "unhealthy" {
			return true
		}
	}
	return false
}

func TestRun_SandboxReentryCapSurfacesCallLimitExceeded(t *testing.T) {
	srv := jsonrpcToolServer(t, nil)
	defer srv.Close()

	script := `
		var results = [];
		for (var i = 0; i < 5; i++) {
			results.push(await A({}));
		}
		return results;
	`
	input, _ := json.Marshal(executeCodeInput{Code: script})

	turns := []models.FinalMessage{
		{StopReason: models.StopToolUse, Content: []models.ContentBlock{toolUseBlock("1", executeCodeTool, string(input))}},
		{StopReason: models.StopEndTurn, Content: []models.ContentBlock{{Type: models.BlockText, Text: "done"}}},
	}

	o, cat := newTestOrchestrator(t, turns, map[string]*httptest.Server{"s1": srv})
	o.cfg.MaxReentries = 3

	var result string
	var isError bool
	cb := progress.Callbacks{OnToolResult: func(tool string, res string, e bool) {
		result = res
		isError = e
	}}

	_, err := o.Run(context.Background(), Request{UserMessage: "go", Catalog: cat, Callbacks: cb})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !isError {
		t.Fatalf("expected execute_code tool_result to be an error, got %q", result)
	}

	var decoded executeCodeResult
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("decode execute_code result: %v, raw=%q", err, result)
	}
	if decoded.ErrorCode != "CallLimitExceeded" {
		t.Fatalf("error_code = %q, want CallLimitExceeded", decoded.ErrorCode)
	}
	if decoded.Suggestion == "" {
		t.Fatalf("expected a non-empty suggestion")
	}
}
