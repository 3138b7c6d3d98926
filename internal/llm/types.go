package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies who authored a piece of conversation content.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// PartType identifies the payload carried by a Part.
type PartType string

const (
	PartText             PartType = "text"
	PartThought          PartType = "thought"
	PartFunctionCall     PartType = "function_call"
	PartFunctionResponse PartType = "function_response"
	PartFile             PartType = "file"
)

// Part is a single piece of content. Exactly one payload is set, selected by Type.
type Part struct {
	Type             PartType          `json:"type"`
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	File             *FileData         `json:"file,omitempty"`
}

// FunctionCall is a model-requested tool invocation.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the result of a tool invocation back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// FileData references a file either by URI or by inline bytes.
type FileData struct {
	MIMEType string `json:"mime_type"`
	URI      string `json:"uri,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

func NewTextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

func NewThoughtPart(text string) Part {
	return Part{Type: PartThought, Text: text}
}

func NewFunctionCallPart(call FunctionCall) Part {
	return Part{Type: PartFunctionCall, FunctionCall: &call}
}

func NewFunctionResponsePart(resp FunctionResponse) Part {
	return Part{Type: PartFunctionResponse, FunctionResponse: &resp}
}

func NewFilePart(file FileData) Part {
	return Part{Type: PartFile, File: &file}
}

// Content is one turn of the conversation.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// UserContent builds a user-role content from parts.
func UserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

// ModelContent builds a model-role content from parts.
func ModelContent(parts ...Part) Content {
	return Content{Role: RoleModel, Parts: parts}
}

// UserText is a convenience for a single-text user content.
func UserText(text string) Content {
	return UserContent(NewTextPart(text))
}

// Text joins the non-thought text parts.
func (c Content) Text() string {
	return partsText(c.Parts)
}

// FunctionCalls returns the function calls in part order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if p.Type == PartFunctionCall && p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// IsFunctionCall reports whether c is a model turn requesting tool calls.
func IsFunctionCall(c Content) bool {
	if c.Role != RoleModel {
		return false
	}
	for _, p := range c.Parts {
		if p.Type == PartFunctionCall {
			return true
		}
	}
	return false
}

// IsFunctionResponse reports whether c is a user turn made only of tool results.
func IsFunctionResponse(c Content) bool {
	if c.Role != RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.Type != PartFunctionResponse {
			return false
		}
	}
	return true
}

func partsText(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// PartsToString renders parts for logs and error reports.
func PartsToString(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		switch p.Type {
		case PartText, PartThought:
			sb.WriteString(p.Text)
		case PartFunctionCall:
			args, _ := json.Marshal(p.FunctionCall.Args)
			sb.WriteString("[function_call " + p.FunctionCall.Name + " " + string(args) + "]")
		case PartFunctionResponse:
			resp, _ := json.Marshal(p.FunctionResponse.Response)
			sb.WriteString("[function_response " + p.FunctionResponse.Name + " " + string(resp) + "]")
		case PartFile:
			sb.WriteString("[file " + p.File.MIMEType + " " + p.File.URI + "]")
		}
	}
	return sb.String()
}

// FinishReason tells why the backend stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishFunctionCall  FinishReason = "function_call"
	FinishOther         FinishReason = "other"
)

// Usage captures token usage if available.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	ThoughtTokens     int `json:"thought_tokens,omitempty"`
}

// Response is a complete response or one streamed fragment of one.
type Response struct {
	Content      Content      `json:"content"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
}

// Text joins the non-thought text parts of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Content.Text()
}

// FunctionCalls returns the function calls carried by the response.
func (r *Response) FunctionCalls() []FunctionCall {
	if r == nil {
		return nil
	}
	return r.Content.FunctionCalls()
}

// FunctionDeclaration describes a callable tool to the model.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
