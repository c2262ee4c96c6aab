package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lucentlabs/ferry/pkg/models"
)

// BedrockProvider implements Transport against AWS Bedrock's Converse API,
// used as the secondary LM backend when Anthropic is unavailable.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	base         BaseProvider
	defaultModel string
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrockProvider loads AWS credentials (explicit or default chain) and
// returns a ready provider.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		base:         NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Complete(ctx context.Context, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return models.FinalMessage{}, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > 1<<30 {
			maxTokens = 1 << 30
		}
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := p.convertTools(req.Tools)
		if err != nil {
			return models.FinalMessage{}, fmt.Errorf("bedrock: %w", err)
		}
		input.ToolConfig = toolConfig
	}

	var output *bedrockruntime.ConverseStreamOutput
	err = p.base.Retry(ctx, IsRetryable, func() error {
		var streamErr error
		output, streamErr = p.client.ConverseStream(ctx, input)
		if streamErr != nil {
			return NewProviderError("bedrock", model, streamErr)
		}
		return nil
	})
	if err != nil {
		return models.FinalMessage{}, fmt.Errorf("bedrock: %w", err)
	}

	return p.processStream(ctx, output, onDelta, model)
}

func (p *BedrockProvider) processStream(ctx context.Context, output *bedrockruntime.ConverseStreamOutput, onDelta OnDelta, model string) (models.FinalMessage, error) {
	eventStream := output.GetStream()
	defer eventStream.Close()

	var final models.FinalMessage
	var textBuf strings.Builder
	var toolInputBuf strings.Builder
	var currentTool *models.ContentBlock

	flushText := func() {
		if textBuf.Len() == 0 {
			return
		}
		final.Content = append(final.Content, models.ContentBlock{Type: models.BlockText, Text: textBuf.String()})
		textBuf.Reset()
	}

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return models.FinalMessage{}, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					return models.FinalMessage{}, NewProviderError("bedrock", model, err)
				}
				flushText()
				if final.StopReason == "" {
					final.StopReason = models.StopEndTurn
				}
				return final, nil
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentTool = &models.ContentBlock{
						Type: models.BlockToolUse,
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInputBuf.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						textBuf.WriteString(delta.Value)
						if onDelta != nil {
							onDelta(delta.Value)
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInputBuf.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentTool != nil {
					flushText()
					currentTool.Input = json.RawMessage(toolInputBuf.String())
					final.Content = append(final.Content, *currentTool)
					currentTool = nil
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				flushText()
				final.StopReason = bedrockStopReason(ev.Value.StopReason)
				return final, nil
			}
		}
	}
}

func bedrockStopReason(reason types.StopReason) models.StopReason {
	switch reason {
	case types.StopReasonToolUse:
		return models.StopToolUse
	case types.StopReasonMaxTokens:
		return models.StopMaxTokens
	case types.StopReasonStopSequence:
		return models.StopStopSequence
	default:
		return models.StopEndTurn
	}
}

func (p *BedrockProvider) convertMessages(messages []models.LMMessage) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var content []types.ContentBlock
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				content = append(content, &types.ContentBlockMemberText{Value: block.Text})
			case models.BlockToolUse:
				var input any
				if len(block.Input) > 0 {
					if err := json.Unmarshal(block.Input, &input); err != nil {
						return nil, fmt.Errorf("invalid tool_use input for %s: %w", block.Name, err)
					}
				} else {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(block.ID),
						Name:      aws.String(block.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			case models.BlockToolResult:
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(block.ToolUseID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: block.Content}},
					},
				})
			}
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result, nil
}

func (p *BedrockProvider) convertTools(tools []models.ToolDefinition) (*types.ToolConfiguration, error) {
	converted := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var schemaDoc any
		if err := json.Unmarshal(tool.InputSchema, &schemaDoc); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		converted = append(converted, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: converted}, nil
}
