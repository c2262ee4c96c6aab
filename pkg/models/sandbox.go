package models

// SandboxInvocation describes one request to run a model-authored script.
type SandboxInvocation struct {
	Script       string
	HostFuncs    []string
	TimeoutMs    int
	MaxReentries int
}

// LogEntry is one console call captured from inside the sandbox, in order.
type LogEntry struct {
	Level       string `json:"level"`
	Message     string `json:"message"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// SandboxResult is the outcome of one sandbox run. Exactly one of Value/ErrorMessage
// is meaningful, discriminated by Failed.
type SandboxResult struct {
	Failed        bool       `json:"failed"`
	Value         any        `json:"value,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Logs          []LogEntry `json:"logs"`
	DurationMs    int64      `json:"duration_ms"`
	ReentriesMade int        `json:"reentries_made"`
}
