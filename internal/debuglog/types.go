package debuglog

import (
	"encoding/json"
	"time"
)

// Entry types written to a log file.
const (
	TypeSessionStart = "session_start"
	TypeRequest      = "request"
	TypeFragment     = "fragment"
	TypeEvent        = "event"
)

// RequestEntry is a logged model request.
type RequestEntry struct {
	Timestamp time.Time
	SessionID string
	PromptID  string
	Turn      int
	Provider  string
	Model     string
	Request   RequestData
}

// RequestData summarises what was sent to the backend.
type RequestData struct {
	SystemInstruction string    `json:"system_instruction,omitempty"`
	Messages          []Message `json:"messages"`
	Tools             []Tool    `json:"tools,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	TopP              *float64  `json:"top_p,omitempty"`
	MaxOutputTokens   int       `json:"max_output_tokens,omitempty"`
}

// Message is a simplified content for logging.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []Part
}

// Part is a simplified content part.
type Part struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// ToolCall is a simplified function call.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResponse is a simplified function response.
type ToolResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// Tool is a simplified tool declaration.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FragmentEntry is one raw response fragment from the backend.
type FragmentEntry struct {
	Timestamp    time.Time
	SessionID    string
	PromptID     string
	Parts        []Part
	FinishReason string
	Usage        *TokenUsage
}

// EventEntry is one engine event or scheduler record.
type EventEntry struct {
	Timestamp time.Time
	SessionID string
	PromptID  string
	EventType string
	Data      map[string]any
}

// Session is a fully parsed log file.
type Session struct {
	ID          string
	FilePath    string
	StartTime   time.Time
	EndTime     time.Time
	Provider    string
	Model       string
	Turns       int // Number of requests
	TotalTokens TokenUsage
	HasErrors   bool
	Command     string
	Args        []string
	Cwd         string
	Entries     []any // RequestEntry, FragmentEntry or EventEntry
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
	Cached int `json:"cached_input_tokens,omitempty"`
}

// SessionSummary is lightweight session info for listing.
type SessionSummary struct {
	ID        string
	FilePath  string
	StartTime time.Time
	Provider  string
	Model     string
	Calls     int // Number of model requests
	Input     int
	Output    int
	Cached    int
	HasErrors bool
	FileSize  int64
}
