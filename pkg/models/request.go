package models

// MessageType is the modality of the inbound client message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeAudio MessageType = "audio"
)

// ProgressMode selects how an external progress webhook is throttled.
type ProgressMode string

const (
	ProgressModeComplete  ProgressMode = "complete"
	ProgressModeIteration ProgressMode = "iteration"
	ProgressModePeriodic  ProgressMode = "periodic"
	ProgressModeSentence  ProgressMode = "sentence"
)

// ClientRequest is the inbound request accepted by the Session Actor.
type ClientRequest struct {
	ClientID               string       `json:"client_id"`
	UserID                 string       `json:"user_id"`
	Message                string       `json:"message"`
	MessageType             MessageType  `json:"message_type"`
	Org                    string       `json:"org,omitempty"`
	MessageKey             string       `json:"message_key,omitempty"`
	ProgressCallbackURL     string       `json:"progress_callback_url,omitempty"`
	ProgressThrottleSeconds float64      `json:"progress_throttle_seconds,omitempty"`
	ProgressMode            ProgressMode `json:"progress_mode,omitempty"`
}

// UnaryResponse is the body returned for non-streaming requests.
type UnaryResponse struct {
	Responses         []string `json:"responses"`
	ResponseLanguage  string   `json:"response_language"`
	VoiceAudioBase64  *string  `json:"voice_audio_base64"`
}

// StreamEventType discriminates the frames sent over the event-stream delivery mode.
type StreamEventType string

const (
	StreamStatus     StreamEventType = "status"
	StreamProgress   StreamEventType = "progress"
	StreamToolUse    StreamEventType = "tool_use"
	StreamToolResult StreamEventType = "tool_result"
	StreamComplete   StreamEventType = "complete"
	StreamError      StreamEventType = "error"
)

// StreamEvent is one `data: <json>\n\n` frame of an event-stream response.
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Message  string          `json:"message,omitempty"`
	Text     string          `json:"text,omitempty"`
	Tool     string          `json:"tool,omitempty"`
	Input    any             `json:"input,omitempty"`
	Result   string          `json:"result,omitempty"`
	Response *UnaryResponse  `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OrgConfig bounds how much history an organization retains and how much the LM sees.
type OrgConfig struct {
	MaxHistoryStorage int `json:"max_history_storage"`
	MaxHistoryLLM     int `json:"max_history_llm"`
}

// DefaultOrgConfig matches the defaults implied by spec's session-state capacity (S=50).
func DefaultOrgConfig() OrgConfig {
	return OrgConfig{MaxHistoryStorage: 50, MaxHistoryLLM: 5}
}

// PromptOverrides maps named prompt slots to organization- or user-supplied overrides.
type PromptOverrides map[string]string
