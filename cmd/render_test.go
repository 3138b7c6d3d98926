package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samsaffron/noma/internal/engine"
	"github.com/samsaffron/noma/internal/llm"
)

func TestRendererStreamsText(t *testing.T) {
	var buf bytes.Buffer
	r := newEventRenderer(&buf, false, false)

	r.handle(engine.ContentEvent{Text: "Hello, "})
	r.handle(engine.ContentEvent{Text: "world"})
	assert.Equal(t, "Hello, world", buf.String())

	r.flush()
	assert.Equal(t, "Hello, world\n", buf.String())

	// nothing pending, nothing written
	r.flush()
	assert.Equal(t, "Hello, world\n", buf.String())
}

func TestRendererToolCallLines(t *testing.T) {
	var buf bytes.Buffer
	r := newEventRenderer(&buf, false, false)

	r.handle(engine.ContentEvent{Text: "Looking"})
	r.handle(engine.ToolCallRequestEvent{Request: engine.ToolCallRequestInfo{
		CallID: "c1",
		Name:   "read_file",
		Args:   map[string]any{"path": "main.go"},
	}})
	r.handle(engine.ToolCallResponseEvent{Response: engine.ToolCallResponseInfo{
		CallID:        "c1",
		ResultDisplay: "package main\nfunc main() {}",
	}})
	r.handle(engine.ToolCallRequestEvent{Request: engine.ToolCallRequestInfo{CallID: "c2", Name: "shell"}})
	r.handle(engine.ToolCallResponseEvent{Response: engine.ToolCallResponseInfo{
		CallID: "c2",
		Error:  errors.New("exit status 1\nmore"),
	}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"Looking",
		`⏺ read_file (path="main.go")`,
		"  ✓ read_file: package main",
		"⏺ shell ()",
		"  ✗ shell: exit status 1",
	}, lines)
}

func TestRendererThoughts(t *testing.T) {
	var hidden, shown bytes.Buffer
	ev := engine.ThoughtEvent{Thought: engine.ThoughtSummary{Subject: "Planning", Description: "read files first"}}

	newEventRenderer(&hidden, false, false).handle(ev)
	newEventRenderer(&shown, false, true).handle(ev)

	assert.Empty(t, hidden.String())
	assert.Contains(t, shown.String(), "Planning")
}

func TestRendererStopEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   engine.Event
		want string
	}{
		{"cancelled", engine.UserCancelledEvent{}, "cancelled"},
		{"error", engine.ErrorEvent{Error: engine.StructuredError{Message: "quota exceeded"}}, "error: quota exceeded"},
		{"max turns", engine.MaxSessionTurnsEvent{}, "session turn limit"},
		{"loop", engine.LoopDetectedEvent{Kind: engine.LoopToolCalls}, "loop detected"},
		{"compressed", engine.ChatCompressedEvent{Info: &engine.ChatCompressionInfo{OriginalTokenCount: 900, NewTokenCount: 200}}, "900 → 200"},
		{"length", engine.FinishedEvent{Reason: llm.FinishLength}, "truncated"},
		{"stop", engine.FinishedEvent{Reason: llm.FinishStop}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newEventRenderer(&buf, false, false).handle(tt.ev)
			if tt.want == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestRendererMarkdownBuffersUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	r := newEventRenderer(&buf, true, false)

	r.handle(engine.ContentEvent{Text: "# Title\n\nsome "})
	r.handle(engine.ContentEvent{Text: "**bold** text"})
	assert.Empty(t, buf.String())

	r.flush()
	assert.Contains(t, buf.String(), "Title")
	assert.Contains(t, buf.String(), "bold")
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "()", formatArgs(nil))
	assert.Equal(t, `(a=1, b="x")`, formatArgs(map[string]any{"b": "x", "a": 1}))

	long := formatArgs(map[string]any{"content": strings.Repeat("x", 300)})
	assert.Len(t, long, maxArgsDisplay)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "first", oneLine("  first\nsecond"))
	assert.Equal(t, "", oneLine("\n"))
}
