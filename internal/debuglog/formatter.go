package debuglog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samsaffron/noma/internal/ui"
)

// FormatOptions controls how session output is formatted.
type FormatOptions struct {
	ShowContent   bool // Show content and thought chunks and fragment bodies
	RequestsOnly  bool // Only show requests
	ShowTimestamp bool // Prefix entries with a timestamp
}

// FormatSessionList formats a list of sessions as a table.
func FormatSessionList(w io.Writer, sessions []SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No debug sessions found.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Enable debug logging with: noma --debug or debug: true in config.yaml")
		return
	}

	styles := ui.NewStyles(w)
	fmt.Fprintf(w, "%s\n\n", styles.Muted.Render(fmt.Sprintf("Debug Sessions (last %d days)", int(Retention.Hours()/24))))

	var totIn, totOut, totCache int
	for i, s := range sessions {
		providerModel := s.Provider
		if s.Model != "" {
			providerModel = fmt.Sprintf("%s / %s", s.Provider, s.Model)
		}
		providerModel = ui.Truncate(providerModel, 40)

		totIn += s.Input
		totOut += s.Output
		totCache += s.Cached

		errMark := " "
		if s.HasErrors {
			errMark = styles.Error.Render("!")
		}

		fmt.Fprintf(w, "%s%2d. %s  %-40s  %s\n",
			errMark,
			i+1,
			styles.Muted.Render(s.StartTime.Local().Format("Jan 02 15:04")),
			providerModel,
			formatTokens(s.Input, s.Output, s.Cached),
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.Muted.Render(
		fmt.Sprintf("Total: %d sessions  %s", len(sessions), formatTokens(totIn, totOut, totCache)),
	))
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.Muted.Render("Use `noma debuglog show 1` to view a session"))
}

// formatTokens formats token counts as in→out (cached:n).
func formatTokens(in, out, cached int) string {
	var parts []string
	if in > 0 || out > 0 {
		parts = append(parts, fmt.Sprintf("%s→%s", compactNum(in), compactNum(out)))
	}
	if cached > 0 {
		parts = append(parts, fmt.Sprintf("cached:%s", compactNum(cached)))
	}
	if len(parts) == 0 {
		return "0 tokens"
	}
	return strings.Join(parts, " ")
}

// compactNum formats a number as 1.2K, 15K, 1.5M.
func compactNum(n int) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 10000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	case n < 1000000:
		return fmt.Sprintf("%dK", n/1000)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
}

// FormatSession formats a full session for display.
func FormatSession(w io.Writer, session *Session, opts FormatOptions) {
	styles := ui.NewStyles(w)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", styles.Highlighted.Render("Session:"), session.ID)
	if session.Command != "" {
		cmdLine := session.Command
		if len(session.Args) > 0 {
			cmdLine += " " + strings.Join(session.Args, " ")
		}
		fmt.Fprintf(w, "%s %s\n", styles.Muted.Render("Command:"), ui.Truncate(cmdLine, 120))
	}
	if session.Cwd != "" {
		fmt.Fprintf(w, "%s %s\n", styles.Muted.Render("Cwd:"), session.Cwd)
	}
	fmt.Fprintf(w, "%s %s/%s\n", styles.Muted.Render("Provider:"), session.Provider, session.Model)
	fmt.Fprintf(w, "%s %s\n", styles.Muted.Render("Started:"), session.StartTime.Local().Format("2006-01-02 15:04:05"))
	if !session.EndTime.IsZero() && session.EndTime.After(session.StartTime) {
		duration := session.EndTime.Sub(session.StartTime).Round(time.Millisecond)
		fmt.Fprintf(w, "%s %s\n", styles.Muted.Render("Duration:"), duration)
	}
	fmt.Fprintf(w, "%s %d requests\n", styles.Muted.Render("Turns:"), session.Turns)
	fmt.Fprintf(w, "%s input=%s output=%s cached=%s\n",
		styles.Muted.Render("Tokens:"),
		formatNumber(session.TotalTokens.Input),
		formatNumber(session.TotalTokens.Output),
		formatNumber(session.TotalTokens.Cached),
	)
	if session.HasErrors {
		fmt.Fprintln(w, styles.Error.Render("Has errors"))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.Muted.Render(strings.Repeat("─", 78)))
	fmt.Fprintln(w)

	for _, entry := range session.Entries {
		switch e := entry.(type) {
		case RequestEntry:
			formatRequestEntry(w, e, opts, styles)
		case FragmentEntry:
			if !opts.RequestsOnly {
				formatFragmentEntry(w, e, opts, styles)
			}
		case EventEntry:
			if !opts.RequestsOnly {
				formatEventEntry(w, e, opts, styles)
			}
		}
	}
}

func timestamp(ts time.Time, opts FormatOptions) string {
	if !opts.ShowTimestamp {
		return ""
	}
	return ts.Local().Format("15:04:05") + " "
}

func oneLine(s string, max int) string {
	return ui.Truncate(strings.ReplaceAll(s, "\n", " "), max)
}

func formatRequestEntry(w io.Writer, req RequestEntry, opts FormatOptions, styles *ui.Styles) {
	fmt.Fprintf(w, "%s%s #%d %s/%s %s\n",
		timestamp(req.Timestamp, opts),
		styles.Highlighted.Render("REQUEST"),
		req.Turn,
		req.Provider,
		req.Model,
		styles.Muted.Render("["+req.PromptID+"]"),
	)

	msgCount := len(req.Request.Messages)
	if len(req.Request.Tools) == 0 {
		fmt.Fprintf(w, "         Messages: %d, Tools: none\n", msgCount)
	} else {
		var names []string
		for _, t := range req.Request.Tools {
			names = append(names, t.Name)
		}
		fmt.Fprintf(w, "         Messages: %d, Tools: %s\n", msgCount, ui.Truncate(strings.Join(names, ", "), 80))
	}
	if req.Request.SystemInstruction != "" {
		fmt.Fprintf(w, "         %s: %s\n", styles.Muted.Render("System"), oneLine(req.Request.SystemInstruction, 500))
	}

	// last user message, when it is plain text
	for i := msgCount - 1; i >= 0; i-- {
		msg := req.Request.Messages[i]
		if msg.Role != "user" {
			continue
		}
		if text, ok := msg.Content.(string); ok && text != "" {
			fmt.Fprintf(w, "         %s: %s\n", styles.Muted.Render("User"), oneLine(text, 200))
		}
		break
	}
	fmt.Fprintln(w)
}

func formatFragmentEntry(w io.Writer, frag FragmentEntry, opts FormatOptions, styles *ui.Styles) {
	ts := timestamp(frag.Timestamp, opts)
	if opts.ShowContent {
		for _, p := range frag.Parts {
			switch {
			case p.ToolCall != nil:
				fmt.Fprintf(w, "%sFRAGMENT %s %s(%s)\n", ts, p.Type, p.ToolCall.Name, ui.Truncate(string(p.ToolCall.Arguments), 100))
			default:
				fmt.Fprintf(w, "%sFRAGMENT %s %q\n", ts, p.Type, ui.Truncate(p.Text, 100))
			}
		}
	}
	if frag.Usage != nil {
		fmt.Fprintf(w, "%s%s input=%d output=%d cached=%d\n",
			ts, styles.Muted.Render("USAGE"), frag.Usage.Input, frag.Usage.Output, frag.Usage.Cached)
	}
}

func formatEventEntry(w io.Writer, evt EventEntry, opts FormatOptions, styles *ui.Styles) {
	ts := timestamp(evt.Timestamp, opts)
	data := evt.Data

	switch evt.EventType {
	case "content":
		if !opts.ShowContent {
			return
		}
		text, _ := data["text"].(string)
		fmt.Fprintf(w, "%sCONTENT %q\n", ts, ui.Truncate(text, 100))

	case "thought":
		if !opts.ShowContent {
			return
		}
		thought, _ := data["thought"].(map[string]any)
		subject, _ := thought["subject"].(string)
		fmt.Fprintf(w, "%s%s %s\n", ts, styles.Muted.Render("THOUGHT"), subject)

	case "tool_call_request":
		req, _ := data["request"].(map[string]any)
		name, _ := req["name"].(string)
		id, _ := req["call_id"].(string)
		fmt.Fprintf(w, "%s%s %s", ts, styles.Bold.Render("TOOL_CALL"), name)
		if opts.ShowContent {
			if args, err := json.Marshal(req["args"]); err == nil {
				fmt.Fprintf(w, " %s", styles.Muted.Render(ui.Truncate(string(args), 100)))
			}
		}
		fmt.Fprintf(w, " %s\n", styles.Muted.Render("["+id+"]"))

	case "tool_call_confirmation":
		details, _ := data["details"].(map[string]any)
		title, _ := details["title"].(string)
		fmt.Fprintf(w, "%s%s %s\n", ts, styles.Warning.Render("CONFIRM"), title)

	case "tool_call_response":
		resp, _ := data["response"].(map[string]any)
		id, _ := resp["call_id"].(string)
		errType, _ := resp["error_type"].(string)
		status := styles.Success.Render("success")
		if errType != "" {
			status = styles.Error.Render(errType)
		}
		fmt.Fprintf(w, "%s%s %s (%s)\n", ts, styles.Muted.Render("TOOL_RESULT"), id, status)

	case "finished":
		reason, _ := data["reason"].(string)
		fmt.Fprintf(w, "%s%s %s\n\n", ts, styles.Success.Render("FINISHED"), reason)

	case "error":
		se, _ := data["error"].(map[string]any)
		msg, _ := se["message"].(string)
		fmt.Fprintf(w, "%s%s %s\n", ts, styles.Error.Render("ERROR"), msg)

	case "user_cancelled":
		fmt.Fprintf(w, "%s%s\n", ts, styles.Warning.Render("CANCELLED"))

	case "loop_detected":
		kind, _ := data["kind"].(string)
		fmt.Fprintf(w, "%s%s %s\n", ts, styles.Error.Render("LOOP"), kind)

	case "max_session_turns":
		fmt.Fprintf(w, "%s%s\n", ts, styles.Warning.Render("MAX_SESSION_TURNS"))

	case "chat_compressed":
		info, _ := data["info"].(map[string]any)
		before, _ := info["original_token_count"].(float64)
		after, _ := info["new_token_count"].(float64)
		fmt.Fprintf(w, "%s%s %d→%d tokens\n", ts, styles.Muted.Render("COMPRESSED"), int(before), int(after))

	default:
		if opts.ShowContent {
			raw, _ := json.Marshal(data)
			fmt.Fprintf(w, "%s%s %s\n", ts, evt.EventType, string(raw))
		}
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	result := make([]byte, 0, len(s)+len(s)/3)
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}
