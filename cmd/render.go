package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/samsaffron/noma/internal/engine"
	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/ui"
)

const (
	defaultWidth   = 80
	maxArgsDisplay = 100
	maxResultLine  = 120
)

// eventRenderer prints engine events as they arrive. With markdown on, model
// text is collected and rendered once the text run ends.
type eventRenderer struct {
	out          io.Writer
	styles       *ui.Styles
	markdown     bool
	showThoughts bool
	width        int

	text      strings.Builder
	midLine   bool
	toolNames map[string]string
}

func newEventRenderer(out io.Writer, markdown, showThoughts bool) *eventRenderer {
	return &eventRenderer{
		out:          out,
		styles:       ui.NewStyles(out),
		markdown:     markdown,
		showThoughts: showThoughts,
		width:        terminalWidth(out),
		toolNames:    make(map[string]string),
	}
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultWidth
}

func (r *eventRenderer) handle(ev engine.Event) {
	switch e := ev.(type) {
	case engine.ContentEvent:
		if r.markdown {
			r.text.WriteString(e.Text)
			return
		}
		fmt.Fprint(r.out, e.Text)
		if e.Text != "" {
			r.midLine = !strings.HasSuffix(e.Text, "\n")
		}

	case engine.ThoughtEvent:
		if !r.showThoughts {
			return
		}
		r.flush()
		thought := e.Thought.Subject
		if thought == "" {
			thought = e.Thought.Description
		}
		r.line(r.styles.Muted.Render(ui.ThoughtIcon + " " + ui.Truncate(oneLine(thought), maxResultLine)))

	case engine.ToolCallRequestEvent:
		r.flush()
		r.toolNames[e.Request.CallID] = e.Request.Name
		r.line(r.styles.Highlighted.Render("⏺ "+e.Request.Name) + r.styles.Muted.Render(" "+formatArgs(e.Request.Args)))

	case engine.ToolCallResponseEvent:
		resp := e.Response
		name := r.toolNames[resp.CallID]
		if resp.Error != nil {
			r.line("  " + r.styles.FormatResult(false, name+": "+ui.Truncate(oneLine(resp.Error.Error()), maxResultLine)))
			return
		}
		summary := name
		if first := oneLine(resp.ResultDisplay); first != "" {
			summary += ": " + ui.Truncate(first, maxResultLine)
		}
		r.line("  " + r.styles.FormatResult(true, summary))

	case engine.ErrorEvent:
		r.flush()
		r.line(r.styles.Error.Render("error: " + e.Error.Message))

	case engine.UserCancelledEvent:
		r.flush()
		r.line(r.styles.Warning.Render("cancelled"))

	case engine.ChatCompressedEvent:
		r.flush()
		msg := "history compressed"
		if e.Info != nil {
			msg = fmt.Sprintf("history compressed (%d → %d tokens)", e.Info.OriginalTokenCount, e.Info.NewTokenCount)
		}
		r.line(r.styles.Muted.Render(msg))

	case engine.MaxSessionTurnsEvent:
		r.flush()
		r.line(r.styles.Warning.Render("stopped: session turn limit reached (max_session_turns)"))

	case engine.LoopDetectedEvent:
		r.flush()
		r.line(r.styles.Warning.Render(fmt.Sprintf("stopped: loop detected (%s)", e.Kind)))

	case engine.FinishedEvent:
		r.flush()
		switch e.Reason {
		case llm.FinishLength:
			r.line(r.styles.Warning.Render("response truncated at the output token limit"))
		case llm.FinishContentFilter:
			r.line(r.styles.Warning.Render("response stopped by the content filter"))
		}
	}
}

// flush ends pending text so the next line starts clean.
func (r *eventRenderer) flush() {
	if r.markdown && r.text.Len() > 0 {
		fmt.Fprintln(r.out, ui.RenderMarkdown(r.text.String(), r.width))
		r.text.Reset()
		return
	}
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *eventRenderer) line(s string) {
	fmt.Fprintln(r.out, s)
}

// formatArgs renders call arguments as compact JSON with sorted keys.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "()"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte("?")
		}
		parts = append(parts, k+"="+string(v))
	}
	return ui.Truncate("("+strings.Join(parts, ", ")+")", maxArgsDisplay)
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
