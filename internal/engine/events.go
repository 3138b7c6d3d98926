// Package engine turns model exchanges into typed event streams and drives
// the lifecycle of the tool calls the model requests.
package engine

import (
	"time"

	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/tools"
)

// EventType names an event variant on the wire and in logs.
type EventType string

const (
	EventContent              EventType = "content"
	EventThought              EventType = "thought"
	EventToolCallRequest      EventType = "tool_call_request"
	EventToolCallResponse     EventType = "tool_call_response"
	EventToolCallConfirmation EventType = "tool_call_confirmation"
	EventUserCancelled        EventType = "user_cancelled"
	EventError                EventType = "error"
	EventChatCompressed       EventType = "chat_compressed"
	EventMaxSessionTurns      EventType = "max_session_turns"
	EventFinished             EventType = "finished"
	EventLoopDetected         EventType = "loop_detected"
)

// Event is one item of an event stream. The set of implementations is closed.
type Event interface {
	Type() EventType
	isEvent()
}

// ContentEvent carries a chunk of model text.
type ContentEvent struct {
	Text string `json:"text"`
}

// ThoughtEvent carries a chunk of model reasoning.
type ThoughtEvent struct {
	Thought ThoughtSummary `json:"thought"`
}

// ToolCallRequestEvent announces a tool call the model asked for.
type ToolCallRequestEvent struct {
	Request ToolCallRequestInfo `json:"request"`
}

// ToolCallResponseEvent carries the terminal outcome of a tool call.
type ToolCallResponseEvent struct {
	Response ToolCallResponseInfo `json:"response"`
}

// ToolCallConfirmationEvent asks the user to approve a tool call. The answer
// goes to Scheduler.Confirm. A non-zero Deadline is when the call is
// cancelled unanswered.
type ToolCallConfirmationEvent struct {
	Request  ToolCallRequestInfo       `json:"request"`
	Details  tools.ConfirmationDetails `json:"details"`
	Deadline time.Time                 `json:"deadline,omitzero"`
}

// UserCancelledEvent reports that the user aborted the turn.
type UserCancelledEvent struct{}

// ErrorEvent reports a backend failure.
type ErrorEvent struct {
	Error StructuredError `json:"error"`
}

// ChatCompressedEvent reports that history was compressed. Info may be nil.
type ChatCompressedEvent struct {
	Info *ChatCompressionInfo `json:"info,omitempty"`
}

// MaxSessionTurnsEvent reports that the session turn limit was reached.
type MaxSessionTurnsEvent struct{}

// FinishedEvent reports the backend's finish reason.
type FinishedEvent struct {
	Reason llm.FinishReason `json:"reason"`
}

// LoopDetectedEvent reports that the model is repeating itself.
type LoopDetectedEvent struct {
	Kind LoopKind `json:"kind"`
}

func (ContentEvent) Type() EventType              { return EventContent }
func (ThoughtEvent) Type() EventType              { return EventThought }
func (ToolCallRequestEvent) Type() EventType      { return EventToolCallRequest }
func (ToolCallResponseEvent) Type() EventType     { return EventToolCallResponse }
func (ToolCallConfirmationEvent) Type() EventType { return EventToolCallConfirmation }
func (UserCancelledEvent) Type() EventType        { return EventUserCancelled }
func (ErrorEvent) Type() EventType                { return EventError }
func (ChatCompressedEvent) Type() EventType       { return EventChatCompressed }
func (MaxSessionTurnsEvent) Type() EventType      { return EventMaxSessionTurns }
func (FinishedEvent) Type() EventType             { return EventFinished }
func (LoopDetectedEvent) Type() EventType         { return EventLoopDetected }

func (ContentEvent) isEvent()              {}
func (ThoughtEvent) isEvent()              {}
func (ToolCallRequestEvent) isEvent()      {}
func (ToolCallResponseEvent) isEvent()     {}
func (ToolCallConfirmationEvent) isEvent() {}
func (UserCancelledEvent) isEvent()        {}
func (ErrorEvent) isEvent()                {}
func (ChatCompressedEvent) isEvent()       {}
func (MaxSessionTurnsEvent) isEvent()      {}
func (FinishedEvent) isEvent()             {}
func (LoopDetectedEvent) isEvent()         {}

// ThoughtSummary is a parsed thought: an optional bold subject plus the rest.
type ThoughtSummary struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// ToolCallRequestInfo identifies one tool invocation. It is not modified
// after creation.
type ToolCallRequestInfo struct {
	CallID            string         `json:"call_id"`
	Name              string         `json:"name"`
	Args              map[string]any `json:"args"`
	IsClientInitiated bool           `json:"is_client_initiated"`
	PromptID          string         `json:"prompt_id"`
}

// ToolCallResponseInfo is the terminal outcome of a tool call.
type ToolCallResponseInfo struct {
	CallID        string          `json:"call_id"`
	ResponseParts []llm.Part      `json:"response_parts"`
	ResultDisplay string          `json:"result_display,omitempty"`
	Error         error           `json:"-"`
	ErrorType     tools.ErrorType `json:"error_type,omitempty"`
}

// StructuredError is the reportable form of a failure.
type StructuredError struct {
	Message string `json:"message"`
	Status  *int   `json:"status,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

// ChatCompressionInfo describes a history compression.
type ChatCompressionInfo struct {
	OriginalTokenCount int `json:"original_token_count"`
	NewTokenCount      int `json:"new_token_count"`
}

// ToolCallStatus is the state of a scheduled tool call.
type ToolCallStatus string

const (
	StatusReceived             ToolCallStatus = "received"
	StatusValidating           ToolCallStatus = "validating"
	StatusScheduled            ToolCallStatus = "scheduled"
	StatusAwaitingConfirmation ToolCallStatus = "awaiting_confirmation"
	StatusExecuting            ToolCallStatus = "executing"
	StatusSuccess              ToolCallStatus = "success"
	StatusError                ToolCallStatus = "error"
	StatusCancelled            ToolCallStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s ToolCallStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ToolCall is the scheduler's record of one request.
type ToolCall struct {
	Request      ToolCallRequestInfo        `json:"request"`
	Status       ToolCallStatus             `json:"status"`
	Tool         tools.Tool                 `json:"-"`
	Confirmation *tools.ConfirmationDetails `json:"confirmation,omitempty"`
	Outcome      tools.ConfirmOutcome       `json:"outcome,omitempty"`
	Response     *ToolCallResponseInfo      `json:"response,omitempty"`
	StartTime    time.Time                  `json:"start_time"`
	EndTime      time.Time                  `json:"end_time,omitzero"`
}

// Duration is the time spent from receipt to terminal state.
func (c *ToolCall) Duration() time.Duration {
	if c.EndTime.IsZero() {
		return 0
	}
	return c.EndTime.Sub(c.StartTime)
}
