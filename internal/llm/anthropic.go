package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lucentlabs/ferry/pkg/models"
)

// maxEmptyStreamEvents guards against a malformed stream that floods empty
// events without ever reaching message_stop.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements Transport against the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	base         BaseProvider
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider validates config and returns a ready provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		base:         NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete issues req, streaming text to onDelta as it arrives and returning
// the fully assembled message once the stream settles.
func (p *AnthropicProvider) Complete(ctx context.Context, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error) {
	model := p.model(req.Model)

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	err := p.base.Retry(ctx, IsRetryable, func() error {
		var streamErr error
		stream, streamErr = p.createStream(ctx, req, model)
		if streamErr != nil {
			streamErr = p.wrapError(streamErr, model)
		}
		return streamErr
	})
	if err != nil {
		return models.FinalMessage{}, fmt.Errorf("anthropic: %w", err)
	}

	return p.processStream(stream, onDelta, model)
}

func (p *AnthropicProvider) createStream(ctx context.Context, req models.CompletionRequest, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], onDelta OnDelta, model string) (models.FinalMessage, error) {
	var final models.FinalMessage
	var textBuf strings.Builder
	var toolInputBuf strings.Builder
	var currentTool *models.ContentBlock
	emptyEvents := 0

	flushText := func() {
		if textBuf.Len() == 0 {
			return
		}
		final.Content = append(final.Content, models.ContentBlock{Type: models.BlockText, Text: textBuf.String()})
		textBuf.Reset()
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				currentTool = &models.ContentBlock{Type: models.BlockToolUse, ID: toolUse.ID, Name: toolUse.Name}
				toolInputBuf.Reset()
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textBuf.WriteString(delta.Text)
					if onDelta != nil {
						onDelta(delta.Text)
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInputBuf.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				flushText()
				currentTool.Input = json.RawMessage(toolInputBuf.String())
				final.Content = append(final.Content, *currentTool)
				currentTool = nil
			}
			processed = true

		case "message_delta":
			if sr := event.AsMessageDelta().Delta.StopReason; sr != "" {
				final.StopReason = models.StopReason(sr)
			}
			processed = true

		case "message_stop":
			flushText()
			if final.StopReason == "" {
				final.StopReason = models.StopEndTurn
			}
			return final, nil

		case "error":
			return models.FinalMessage{}, p.wrapError(errors.New("anthropic stream error"), model)
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return models.FinalMessage{}, p.wrapError(fmt.Errorf("stream malformed: %d consecutive empty events", emptyEvents), model)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return models.FinalMessage{}, p.wrapError(err, model)
	}

	flushText()
	if final.StopReason == "" {
		final.StopReason = models.StopEndTurn
	}
	return final, nil
}

func (p *AnthropicProvider) convertMessages(messages []models.LMMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case models.BlockToolUse:
				var input map[string]any
				if len(block.Input) > 0 {
					if err := json.Unmarshal(block.Input, &input); err != nil {
						return nil, fmt.Errorf("invalid tool_use input for %s: %w", block.Name, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			}
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *AnthropicProvider) maxTokens(requested int) int {
	if requested <= 0 {
		return 4096
	}
	return requested
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
	}
	return NewProviderError("anthropic", model, err)
}
