package llm

import (
	"encoding/json"
	"testing"

	"github.com/lucentlabs/ferry/pkg/models"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProviderAppliesDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.defaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("defaultModel = %q, want default", p.defaultModel)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
}

func TestConvertMessagesRoundTripsToolBlocks(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := []models.LMMessage{
		models.TextMessage(models.RoleUser, "hello"),
		{
			Role: models.RoleAssistant,
			Content: []models.ContentBlock{
				{Type: models.BlockToolUse, ID: "t1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)},
			},
		},
		{
			Role: models.RoleUser,
			Content: []models.ContentBlock{
				{Type: models.BlockToolResult, ToolUseID: "t1", Content: "result text"},
			},
		},
	}

	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages returned error: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("converted = %d messages, want 3", len(converted))
	}
}

func TestConvertMessagesRejectsInvalidToolInput(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := []models.LMMessage{
		{
			Role: models.RoleAssistant,
			Content: []models.ContentBlock{
				{Type: models.BlockToolUse, ID: "t1", Name: "search", Input: json.RawMessage(`not json`)},
			},
		},
	}
	if _, err := p.convertMessages(messages); err == nil {
		t.Fatal("expected error for malformed tool input JSON")
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tools := []models.ToolDefinition{{Name: "search", InputSchema: json.RawMessage(`not json`)}}
	if _, err := p.convertTools(tools); err == nil {
		t.Fatal("expected error for malformed tool schema")
	}
}
