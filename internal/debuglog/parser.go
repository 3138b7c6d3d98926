package debuglog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// rawEntry is the union of all entry shapes, for parsing.
type rawEntry struct {
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	PromptID  string          `json:"prompt_id,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Model     string          `json:"model,omitempty"`
	Turn      int             `json:"turn,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	// fragment fields
	Parts        []Part      `json:"parts,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	// session_start fields
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
}

// scanEntries calls fn for every well-formed line of path.
func scanEntries(path string, fn func(rawEntry, time.Time)) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// request lines carry whole histories
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entry rawEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil {
			continue
		}
		fn(entry, ts)
	}
	return scanner.Err()
}

// ListSessions returns summaries of all sessions in dir, most recent first.
func ListSessions(dir string) ([]SessionSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []SessionSummary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		summary, err := parseSessionSummary(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // skip unreadable files
		}
		sessions = append(sessions, summary)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions, nil
}

func parseSessionSummary(path string) (SessionSummary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SessionSummary{}, err
	}
	summary := SessionSummary{
		ID:       strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		FilePath: path,
		FileSize: info.Size(),
	}

	err = scanEntries(path, func(entry rawEntry, ts time.Time) {
		if summary.StartTime.IsZero() || ts.Before(summary.StartTime) {
			summary.StartTime = ts
		}
		switch entry.Type {
		case TypeRequest:
			if summary.Calls == 0 {
				summary.Provider = entry.Provider
				summary.Model = entry.Model
			}
			summary.Calls++
		case TypeFragment:
			if entry.Usage != nil {
				summary.Input += entry.Usage.Input
				summary.Output += entry.Usage.Output
				summary.Cached += entry.Usage.Cached
			}
		case TypeEvent:
			if entry.EventType == "error" {
				summary.HasErrors = true
			}
		}
	})
	return summary, err
}

// ParseSession parses a full log file.
func ParseSession(path string) (*Session, error) {
	session := &Session{
		ID:       strings.TrimSuffix(filepath.Base(path), ".jsonl"),
		FilePath: path,
	}

	err := scanEntries(path, func(entry rawEntry, ts time.Time) {
		if session.StartTime.IsZero() || ts.Before(session.StartTime) {
			session.StartTime = ts
		}
		if ts.After(session.EndTime) {
			session.EndTime = ts
		}

		switch entry.Type {
		case TypeSessionStart:
			session.Command = entry.Command
			session.Args = entry.Args
			session.Cwd = entry.Cwd

		case TypeRequest:
			req := RequestEntry{
				Timestamp: ts,
				SessionID: entry.SessionID,
				PromptID:  entry.PromptID,
				Turn:      entry.Turn,
				Provider:  entry.Provider,
				Model:     entry.Model,
			}
			if entry.Request != nil {
				_ = json.Unmarshal(entry.Request, &req.Request)
			}
			session.Entries = append(session.Entries, req)
			session.Turns++
			if session.Provider == "" {
				session.Provider = req.Provider
				session.Model = req.Model
			}

		case TypeFragment:
			session.Entries = append(session.Entries, FragmentEntry{
				Timestamp:    ts,
				SessionID:    entry.SessionID,
				PromptID:     entry.PromptID,
				Parts:        entry.Parts,
				FinishReason: entry.FinishReason,
				Usage:        entry.Usage,
			})
			if entry.Usage != nil {
				session.TotalTokens.Input += entry.Usage.Input
				session.TotalTokens.Output += entry.Usage.Output
				session.TotalTokens.Cached += entry.Usage.Cached
			}

		case TypeEvent:
			evt := EventEntry{
				Timestamp: ts,
				SessionID: entry.SessionID,
				PromptID:  entry.PromptID,
				EventType: entry.EventType,
			}
			if entry.Data != nil {
				_ = json.Unmarshal(entry.Data, &evt.Data)
			}
			session.Entries = append(session.Entries, evt)
			if evt.EventType == "error" {
				session.HasErrors = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ResolveSession resolves a 1-based index (1 = most recent) or a session id.
// It returns nil when nothing matches.
func ResolveSession(dir, identifier string) (*SessionSummary, error) {
	sessions, err := ListSessions(dir)
	if err != nil {
		return nil, err
	}
	if num, err := strconv.Atoi(identifier); err == nil {
		if num < 1 || num > len(sessions) {
			return nil, nil
		}
		return &sessions[num-1], nil
	}
	for i := range sessions {
		if sessions[i].ID == identifier {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// ParseRawLines returns the raw JSON lines of a log file.
func ParseRawLines(path string) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []json.RawMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		// the scanner reuses its buffer
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, json.RawMessage(line))
	}
	return lines, scanner.Err()
}
