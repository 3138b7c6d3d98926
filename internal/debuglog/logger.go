package debuglog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samsaffron/noma/internal/config"
	"github.com/samsaffron/noma/internal/llm"
)

// Retention for old log files, applied when a new Logger is opened.
const Retention = 7 * 24 * time.Hour

// Logger appends requests, fragments and events to a JSONL file, one file
// per session. A nil *Logger discards everything.
type Logger struct {
	sessionID string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closed    bool
}

type entryHeader struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	PromptID  string `json:"prompt_id,omitempty"`
}

type sessionStartEntry struct {
	entryHeader
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     string   `json:"cwd"`
}

type requestEntry struct {
	entryHeader
	Turn     int         `json:"turn"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Request  RequestData `json:"request"`
}

type fragmentEntry struct {
	entryHeader
	Parts        []Part      `json:"parts"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

type eventEntry struct {
	entryHeader
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

// DefaultDir returns $XDG_DATA_HOME/noma/debug.
func DefaultDir() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "debug"), nil
}

// NewLogger opens <dir>/<sessionID>.jsonl for appending and removes log
// files older than Retention.
func NewLogger(dir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	_ = CleanupOldLogs(dir, Retention)

	file, err := os.OpenFile(filepath.Join(dir, sessionID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &Logger{
		sessionID: sessionID,
		file:      file,
		writer:    bufio.NewWriter(file),
	}, nil
}

func (l *Logger) header(typ, promptID string) entryHeader {
	return entryHeader{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: l.sessionID,
		Type:      typ,
		PromptID:  promptID,
	}
}

// LogSessionStart records the CLI invocation.
func (l *Logger) LogSessionStart(command string, args []string, cwd string) {
	if l == nil {
		return
	}
	l.writeEntry(sessionStartEntry{
		entryHeader: l.header(TypeSessionStart, ""),
		Command:     command,
		Args:        args,
		Cwd:         cwd,
	})
	l.Flush()
}

// LogRequest records the request of one turn.
func (l *Logger) LogRequest(promptID string, turn int, provider string, req llm.GenerateRequest) {
	if l == nil {
		return
	}
	l.writeEntry(requestEntry{
		entryHeader: l.header(TypeRequest, promptID),
		Turn:        turn,
		Provider:    provider,
		Model:       req.Model,
		Request: RequestData{
			SystemInstruction: req.Config.SystemInstruction,
			Messages:          convertContents(req.Contents),
			Tools:             convertTools(req.Config.Tools),
			Temperature:       req.Config.Temperature,
			TopP:              req.Config.TopP,
			MaxOutputTokens:   req.Config.MaxOutputTokens,
		},
	})
}

// LogFragment records one raw response fragment.
func (l *Logger) LogFragment(promptID string, resp *llm.Response) {
	if l == nil || resp == nil {
		return
	}
	entry := fragmentEntry{
		entryHeader:  l.header(TypeFragment, promptID),
		Parts:        convertParts(resp.Content.Parts),
		FinishReason: string(resp.FinishReason),
	}
	if resp.Usage != nil {
		entry.Usage = &TokenUsage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
			Cached: resp.Usage.CachedInputTokens,
		}
	}
	l.writeEntry(entry)
}

// LogEvent records an engine event. data must marshal to a JSON object.
// Terminal events flush the buffer.
func (l *Logger) LogEvent(promptID, eventType string, data any) {
	if l == nil {
		return
	}
	l.writeEntry(eventEntry{
		entryHeader: l.header(TypeEvent, promptID),
		EventType:   eventType,
		Data:        data,
	})
	switch eventType {
	case "finished", "error", "user_cancelled", "loop_detected", "max_session_turns":
		l.Flush()
	}
}

// writeEntry writes a single entry as a JSON line without flushing.
func (l *Logger) writeEntry(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.writer.Write(data)
	l.writer.WriteByte('\n')
}

// Flush writes buffered entries to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.writer.Flush()
	}
}

// Close flushes and closes the file. Later writes are dropped.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	flushErr := l.writer.Flush()
	if err := l.file.Close(); err != nil {
		return err
	}
	return flushErr
}

func convertContents(contents []llm.Content) []Message {
	out := make([]Message, len(contents))
	for i, c := range contents {
		out[i] = Message{Role: string(c.Role), Content: simplifyParts(c.Parts)}
	}
	return out
}

// simplifyParts collapses a lone text part to its string.
func simplifyParts(parts []llm.Part) any {
	if len(parts) == 1 && parts[0].Type == llm.PartText {
		return parts[0].Text
	}
	return convertParts(parts)
}

func convertParts(parts []llm.Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		dp := Part{Type: string(p.Type)}
		switch p.Type {
		case llm.PartText, llm.PartThought:
			dp.Text = p.Text
		case llm.PartFunctionCall:
			if p.FunctionCall != nil {
				args, _ := json.Marshal(p.FunctionCall.Args)
				dp.ToolCall = &ToolCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Arguments: args}
			}
		case llm.PartFunctionResponse:
			if p.FunctionResponse != nil {
				resp, _ := json.Marshal(p.FunctionResponse.Response)
				dp.ToolResponse = &ToolResponse{ID: p.FunctionResponse.ID, Name: p.FunctionResponse.Name, Response: resp}
			}
		case llm.PartFile:
			if p.File != nil {
				dp.Text = "[file " + p.File.MIMEType + " " + p.File.URI + "]"
			}
		}
		out = append(out, dp)
	}
	return out
}

func convertTools(decls []llm.FunctionDeclaration) []Tool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]Tool, len(decls))
	for i, d := range decls {
		out[i] = Tool{Name: d.Name, Description: d.Description}
	}
	return out
}

// CleanupOldLogs removes .jsonl files in dir older than maxAge.
func CleanupOldLogs(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
