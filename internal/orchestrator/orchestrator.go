package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

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

// ClientFactory returns (creating and caching, if it chooses) the
// Tool-Server Client for a server config. Supplied by the caller so the
// orchestrator never has to own HTTP client lifecycle decisions.
type ClientFactory func(server models.ToolServerConfig) *toolserver.Client

// Request is one orchestrator run's input: a single user message plus the
// context it runs against. Catalog, budget, and health are all owned
// exclusively by this run, per spec.md §3's ownership rule.
type Request struct {
	SystemPromptPrefix string // org/user-specific preamble; tool summary is appended.
	History            []models.Exchange
	UserMessage        string
	Catalog            *catalog.Catalog
	Callbacks          progress.Callbacks
}

// Orchestrator runs the bounded LM<->tool loop described in spec.md §4.7.
type Orchestrator struct {
	cfg       Config
	transport llm.Transport
	sandbox   *sandbox.Sandbox
	clients   ClientFactory
	logger    *slog.Logger
}

// New returns an Orchestrator. cfg's zero-valued fields take DefaultConfig's values.
func New(cfg Config, transport llm.Transport, sb *sandbox.Sandbox, clients ClientFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		transport: transport,
		sandbox:   sb,
		clients:   clients,
		logger:    logger.With("component", "orchestrator"),
	}
}

// dispatcher is the shared per-tool-call pipeline used by both execute_code's
// host functions and a directly-addressed cataloged tool.
type dispatcher struct {
	o      *Orchestrator
	cat    *catalog.Catalog
	budget *budget.Budget
	health *health.Tracker
	logger *slog.Logger
}

// call runs the six-step dispatch sequence from spec.md §4.7 for one tool
// name and raw JSON arguments, returning the extracted result value.
func (d *dispatcher) call(ctx context.Context, name string, arguments json.RawMessage) (any, *ferrors.Error) {
	tool, ok := d.cat.FindTool(name)
	if !ok {
		return nil, ferrors.UnknownTool(name)
	}

	if verr := validateInput(name, tool.InputSchema, arguments); verr != nil {
		return nil, verr
	}

	if d.budget.WouldExceed() {
		return nil, ferrors.BudgetExceeded(d.budget.Actual(), d.budget.Limit())
	}

	if !d.health.IsHealthy(tool.ServerID) {
		return nil, ferrors.ServerUnhealthy(tool.ServerID)
	}

	server, _ := d.cat.Server(tool.ServerID)
	client := d.o.clients(server)

	result, elapsed, err := client.Invoke(ctx, tool.OriginalName, arguments, toolserver.CallOptions{
		Timeout:          d.o.cfg.InvocationTimeout,
		MaxResponseBytes: d.o.cfg.MaxResponseBytes,
	})
	if err != nil {
		d.health.RecordFailure(tool.ServerID, err)
		d.budget.RecordCall(nil)
		if ferr, ok := ferrors.As(err); ok {
			return nil, ferr
		}
		return nil, ferrors.Transport(0, err)
	}

	d.health.RecordSuccess(tool.ServerID, elapsed)
	d.budget.RecordCall(&result.Meta)

	return result.Value, nil
}

// iterationSeparator is emitted on the progress stream before every
// iteration after the first, per spec.md §4.7 step 1, so a client rendering
// the raw delta stream can visibly tell iterations apart.
const iterationSeparator = "\n"

// Run executes the bounded loop and returns the collected assistant text.
func (r Request) systemPrompt() string {
	prompt := r.SystemPromptPrefix
	if prompt != "" {
		prompt += "\n\n"
	}
	prompt += "Available tools:\n" + r.Catalog.RenderSummary()
	return prompt
}

func historyToMessages(history []models.Exchange) []models.LMMessage {
	msgs := make([]models.LMMessage, 0, len(history)*2)
	for _, ex := range history {
		msgs = append(msgs, models.TextMessage(models.RoleUser, ex.UserMessage))
		msgs = append(msgs, models.TextMessage(models.RoleAssistant, ex.AssistantText))
	}
	return msgs
}

// Run executes req against the LM, resolving tool-use via the sandbox and
// catalog, and returns the assistant's collected text responses.
func (o *Orchestrator) Run(ctx context.Context, req Request) ([]string, error) {
	b := budget.New(budget.Config{Limit: o.cfg.BudgetLimit, DefaultPerCall: o.cfg.DefaultDownstreamPerCall})
	h := health.New()
	d := &dispatcher{o: o, cat: req.Catalog, budget: b, health: h, logger: o.logger}

	messages := append(historyToMessages(req.History), models.TextMessage(models.RoleUser, req.UserMessage))
	system := req.systemPrompt()
	tools := metaToolDefinitions()

	var responses []string

	for i := 0; i < o.cfg.MaxIterations; i++ {
		if i > 0 {
			req.Callbacks.EmitProgress(iterationSeparator)
		}

		onDelta := func(text string) {
			req.Callbacks.EmitProgress(text)
		}

		final, err := o.transport.Complete(ctx, models.CompletionRequest{
			Model:     o.cfg.Model,
			MaxTokens: o.cfg.MaxTokens,
			System:    system,
			Messages:  messages,
			Tools:     tools,
		}, onDelta)
		if err != nil {
			o.logger.Error("lm completion failed", "error", err, "iteration", i)
			req.Callbacks.EmitError(err)
			return nil, err
		}

		for _, block := range final.TextBlocks() {
			if block.Text != "" {
				responses = append(responses, block.Text)
			}
		}

		toolUses := final.ToolUseBlocks()
		if final.StopReason.IsTerminal() || len(toolUses) == 0 {
			break
		}

		req.Callbacks.EmitStatus(fmt.Sprintf("Executing %d tool(s)...", len(toolUses)))

		results := o.executeToolUses(ctx, d, req.Callbacks, toolUses)

		messages = append(messages, models.LMMessage{Role: models.RoleAssistant, Content: final.Content})
		messages = append(messages, models.LMMessage{Role: models.RoleUser, Content: results})

		req.Callbacks.EmitIterationComplete(i)
	}

	status := b.Status()
	o.logger.Info("orchestration summary",
		"budget_total", status.Total, "budget_limit", status.Total+status.Remaining,
		"budget_warning", status.Warning, "health", h.Summary())

	return responses, nil
}

// executeToolUses runs every tool_use block concurrently and returns their
// tool_result blocks in the same order as the inputs, per spec.md §4.7's
// ordering guarantee.
func (o *Orchestrator) executeToolUses(ctx context.Context, d *dispatcher, cb progress.Callbacks, blocks []models.ContentBlock) []models.ContentBlock {
	out := make([]models.ContentBlock, len(blocks))
	var wg sync.WaitGroup
	for i, block := range blocks {
		i, block := i, block
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = o.executeOne(ctx, d, cb, block)
		}()
	}
	wg.Wait()
	return out
}

func (o *Orchestrator) executeOne(ctx context.Context, d *dispatcher, cb progress.Callbacks, block models.ContentBlock) models.ContentBlock {
	cb.EmitToolUse(block.Name, json.RawMessage(block.Input))

	var value any
	var ferr *ferrors.Error

	switch block.Name {
	case executeCodeTool:
		value, ferr = o.runExecuteCode(ctx, d, block.Input)
	case getToolDefinitionsTool:
		value, ferr = o.runGetToolDefinitions(d.cat, block.Input)
	default:
		value, ferr = d.call(ctx, block.Name, block.Input)
	}

	if ferr != nil {
		cb.EmitToolResult(block.Name, ferr.Message, true)
		return models.ContentBlock{
			Type:      models.BlockToolResult,
			ToolUseID: block.ID,
			Content:   ferr.Message,
			IsError:   true,
		}
	}

	isError := false
	if res, ok := value.(executeCodeResult); ok && res.Error != "" {
		isError = true
	}

	text := stringifyResult(value)
	cb.EmitToolResult(block.Name, text, isError)
	return models.ContentBlock{
		Type:      models.BlockToolResult,
		ToolUseID: block.ID,
		Content:   text,
		IsError:   isError,
	}
}

func stringifyResult(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}

type executeCodeResult struct {
	Result     any               `json:"result,omitempty"`
	Logs       []models.LogEntry `json:"logs"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	CallsMade  int               `json:"calls_made,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// runExecuteCode implements the execute_code meta-tool: the sandbox gets one
// host function per catalog tool name, each routed through the shared
// dispatcher so budget/health gates apply uniformly whether a tool is called
// directly or from within a script.
func (o *Orchestrator) runExecuteCode(ctx context.Context, d *dispatcher, rawInput json.RawMessage) (any, *ferrors.Error) {
	var in executeCodeInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return nil, ferrors.Validation("execute_code input must be an object with a \"code\" string: %v", err)
	}

	hostFuncs := make(map[string]sandbox.HostFunc, len(d.cat.ToolNames()))
	for _, name := range d.cat.ToolNames() {
		name := name
		hostFuncs[name] = func(ctx context.Context, args []any) (any, error) {
			argBytes, err := json.Marshal(firstArg(args))
			if err != nil {
				return nil, ferrors.Validation("marshal arguments for %q: %v", name, err)
			}
			value, ferr := d.call(ctx, name, argBytes)
			if ferr != nil {
				return nil, ferr
			}
			return value, nil
		}
	}

	inv := models.SandboxInvocation{
		Script:       in.Code,
		TimeoutMs:    int(o.cfg.CodeExecTimeout.Milliseconds()),
		MaxReentries: o.cfg.MaxReentries,
	}

	result, err := o.sandbox.Run(ctx, inv, hostFuncs)
	if err != nil {
		if ferr, ok := ferrors.As(err); ok {
			return nil, ferr
		}
		return nil, ferrors.Execution(err.Error())
	}

	if result.Failed {
		out := executeCodeResult{Logs: result.Logs, Error: result.ErrorMessage, ErrorCode: result.ErrorCode}
		if result.ErrorCode == string(ferrors.KindCallLimit) {
			out.CallsMade = result.ReentriesMade
			out.Limit = o.cfg.MaxReentries
			out.Suggestion = "reduce the number of tool calls made from within execute_code, or split the work across multiple iterations"
		}
		return out, nil
	}

	return executeCodeResult{Result: result.Value, Logs: result.Logs, DurationMs: result.DurationMs}, nil
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return map[string]any{}
	}
	return args[0]
}

// runGetToolDefinitions implements the get_tool_definitions meta-tool.
func (o *Orchestrator) runGetToolDefinitions(cat *catalog.Catalog, rawInput json.RawMessage) (any, *ferrors.Error) {
	var in getToolDefinitionsInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return nil, ferrors.Validation("get_tool_definitions input must be an object with a \"tool_names\" array: %v", err)
	}
	return cat.ToolDefinitions(in.ToolNames), nil
}
