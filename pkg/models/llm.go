package models

import "encoding/json"

// Role is the author of an LMMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the variants of ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of an LMMessage's structured content.
//
// Exactly the fields relevant to Type are populated:
//   - text:        Text
//   - tool_use:    ID, Name, Input
//   - tool_result: ToolUseID, Content, IsError
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// LMMessage is one turn in the ephemeral per-request message log.
type LMMessage struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a single-block text message.
func TextMessage(role Role, text string) LMMessage {
	return LMMessage{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// StopReason is the reason the LM ended its turn.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// IsTerminal reports whether r should end the orchestration loop outright,
// i.e. every reason other than tool_use.
func (r StopReason) IsTerminal() bool {
	return r != StopToolUse
}

// ToolDefinition is the shape the LM transport needs for one callable tool:
// just enough to describe a meta-tool, independent of the catalog.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CompletionRequest is the input to one LM Transport invocation.
type CompletionRequest struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []LMMessage
	Tools     []ToolDefinition
}

// CompletionChunk is one incremental event delivered during a streaming call.
type CompletionChunk struct {
	TextDelta string
	Done      bool
}

// FinalMessage is the fully assembled assistant turn returned by the LM Transport.
type FinalMessage struct {
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
}

// ToolUseBlocks returns the subset of Content that are tool_use blocks, in order.
func (m FinalMessage) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// TextBlocks returns the subset of Content that are text blocks, in order.
func (m FinalMessage) TextBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockText {
			out = append(out, b)
		}
	}
	return out
}
