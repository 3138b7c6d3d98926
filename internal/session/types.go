package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/noma/internal/llm"
)

// SessionStatus represents the current state of a session.
type SessionStatus string

const (
	StatusActive      SessionStatus = "active"      // Session is open (may or may not be streaming)
	StatusComplete    SessionStatus = "complete"    // Session finished normally
	StatusError       SessionStatus = "error"       // Session ended with an error
	StatusInterrupted SessionStatus = "interrupted" // Session was cancelled by user
)

// Session represents a conversation stored in the database.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary,omitempty"` // First user message
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CWD       string    `json:"cwd,omitempty"` // Working directory at session start
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Archived  bool      `json:"archived,omitempty"`

	// Session metrics
	UserTurns    int           `json:"user_turns,omitempty"`    // Number of user prompts
	LLMTurns     int           `json:"llm_turns,omitempty"`     // Number of model round-trips
	ToolCalls    int           `json:"tool_calls,omitempty"`    // Total tool executions
	InputTokens  int           `json:"input_tokens,omitempty"`  // Total input tokens used
	OutputTokens int           `json:"output_tokens,omitempty"` // Total output tokens used
	Status       SessionStatus `json:"status,omitempty"`
}

// Message is one history entry of a session. Parts stores the full
// llm.Content parts as JSON so function calls and responses survive exactly.
type Message struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	PromptID    string     `json:"prompt_id,omitempty"`
	Role        llm.Role   `json:"role"`
	Parts       []llm.Part `json:"parts"`
	TextContent string     `json:"text_content"` // Extracted text for display/FTS
	CreatedAt   time.Time  `json:"created_at"`
	Sequence    int        `json:"sequence"`
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	MessageCount int           `json:"message_count"`
	UserTurns    int           `json:"user_turns,omitempty"`
	LLMTurns     int           `json:"llm_turns,omitempty"`
	ToolCalls    int           `json:"tool_calls,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Status       SessionStatus `json:"status,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ListOptions configures session listing.
type ListOptions struct {
	Provider string        // Filter by provider
	Model    string        // Filter by model
	Status   SessionStatus // Filter by status
	Limit    int           // Max results (0 = use default)
	Offset   int           // Pagination offset
	Archived bool          // Include archived sessions
}

// SearchResult represents a search match.
type SearchResult struct {
	SessionID   string    `json:"session_id"`
	MessageID   int64     `json:"message_id"`
	SessionName string    `json:"session_name"`
	Summary     string    `json:"summary"`
	Snippet     string    `json:"snippet"` // Matched text snippet
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewID returns a new session id.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a Message from c. A negative sequence is allocated by the store.
func NewMessage(sessionID, promptID string, c llm.Content, sequence int) *Message {
	m := &Message{
		SessionID: sessionID,
		PromptID:  promptID,
		Role:      c.Role,
		Parts:     c.Parts,
		CreatedAt: time.Now(),
		Sequence:  sequence,
	}
	m.TextContent = m.ExtractTextContent()
	return m
}

// ExtractTextContent concatenates the text parts, one per line.
// Thoughts and tool traffic are left out of the searchable text.
func (m *Message) ExtractTextContent() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Type == llm.PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToContent converts a Message back to conversation content.
func (m *Message) ToContent() llm.Content {
	return llm.Content{
		Role:  m.Role,
		Parts: m.Parts,
	}
}

// PartsJSON returns the Parts field serialized to JSON for database storage.
func (m *Message) PartsJSON() (string, error) {
	if m.Parts == nil {
		return "[]", nil
	}
	data, err := json.Marshal(m.Parts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetPartsFromJSON deserializes JSON into the Parts field.
func (m *Message) SetPartsFromJSON(data string) error {
	if data == "" {
		m.Parts = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.Parts)
}

// Contents converts messages to conversation history in sequence order.
func Contents(messages []Message) []llm.Content {
	out := make([]llm.Content, 0, len(messages))
	for i := range messages {
		out = append(out, messages[i].ToContent())
	}
	return out
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
