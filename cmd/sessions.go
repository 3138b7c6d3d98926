package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	Long: `List, search, show, resume and delete stored conversations.

Examples:
  noma sessions                       # List recent sessions
  noma sessions list --status error
  noma sessions search "migration"
  noma sessions show <id>
  noma sessions resume <id>
  noma sessions delete <id>`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search session messages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show session details and messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Continue a session in chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startChat(cmd, args[0])
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

// Flags
var (
	sessionsProvider string
	sessionsLimit    int
	sessionsJSON     bool
	sessionsStatus   string
)

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsProvider, "provider", "", "Filter by provider")
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active, complete, error, interrupted)")

	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResumeCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	rootCmd.AddCommand(sessionsCmd)
}

func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, errors.New("session storage is disabled in config")
	}
	return session.NewStore(session.ConfigFrom(cfg.Session))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if sessionsStatus != "" {
		validStatuses := []string{"active", "complete", "error", "interrupted"}
		if !slices.Contains(validStatuses, sessionsStatus) {
			return fmt.Errorf("invalid status %q: must be one of %v", sessionsStatus, validStatuses)
		}
	}

	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), session.ListOptions{
		Provider: sessionsProvider,
		Status:   session.SessionStatus(sessionsStatus),
		Limit:    sessionsLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-30s %4s %5s %5s %-11s %-11s %s\n",
		"ID", "SUMMARY", "MSGS", "TURNS", "TOOLS", "TOKENS", "STATUS", "AGE")
	fmt.Fprintln(out, strings.Repeat("-", 96))

	for _, s := range summaries {
		summary := s.Summary
		if s.Name != "" {
			summary = s.Name
		}
		if len(summary) > 30 {
			summary = summary[:27] + "..."
		}
		status := string(s.Status)
		if status == "" {
			status = string(session.StatusActive)
		}
		// TURNS counts model round-trips
		fmt.Fprintf(out, "%-10s %-30s %4d %5d %5d %-11s %-11s %s\n",
			shortID(s.ID), summary, s.MessageCount, s.LLMTurns, s.ToolCalls,
			formatSessionTokens(s.InputTokens, s.OutputTokens), status, formatRelativeTime(s.UpdatedAt, time.Now()))
	}
	return nil
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(cmd.Context(), query, 20)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results found for '%s'\n", query)
		return nil
	}

	fmt.Fprintf(out, "Found %d matches for '%s':\n\n", len(results), query)
	for _, r := range results {
		name := r.SessionName
		if name == "" {
			name = r.Summary
		}
		fmt.Fprintf(out, "%s  %s (%s)\n", shortID(r.SessionID), name, r.Provider)
		fmt.Fprintf(out, "  %s\n\n", r.Snippet)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session '%s' not found", args[0])
	}
	messages, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		data := struct {
			Session  *session.Session  `json:"session"`
			Messages []session.Message `json:"messages"`
		}{
			Session:  sess,
			Messages: messages,
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	if sess.Name != "" {
		fmt.Fprintf(out, "Name: %s\n", sess.Name)
	}
	fmt.Fprintf(out, "Provider: %s\n", sess.Provider)
	fmt.Fprintf(out, "Model: %s\n", sess.Model)
	fmt.Fprintf(out, "Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	if sess.CWD != "" {
		fmt.Fprintf(out, "CWD: %s\n", sess.CWD)
	}
	status := string(sess.Status)
	if status == "" {
		status = string(session.StatusActive)
	}
	fmt.Fprintf(out, "Status: %s\n", status)
	fmt.Fprintf(out, "Messages: %d\n", len(messages))
	fmt.Fprintf(out, "User Turns: %d\n", sess.UserTurns)
	fmt.Fprintf(out, "LLM Turns: %d\n", sess.LLMTurns)
	fmt.Fprintf(out, "Tool Calls: %d\n", sess.ToolCalls)
	fmt.Fprintf(out, "Tokens: %s (input: %d, output: %d)\n\n",
		formatSessionTokens(sess.InputTokens, sess.OutputTokens), sess.InputTokens, sess.OutputTokens)

	for _, msg := range messages {
		fmt.Fprintf(out, "%s %s\n\n", roleMarker(msg), describeMessage(msg))
	}
	return nil
}

func roleMarker(msg session.Message) string {
	switch msg.Role {
	case llm.RoleUser:
		return "❯"
	case llm.RoleModel:
		return "⏺"
	}
	return string(msg.Role)
}

// describeMessage summarises a message: its text, or the tools it calls or
// answers.
func describeMessage(msg session.Message) string {
	content := msg.ToContent()
	if calls := content.FunctionCalls(); len(calls) > 0 {
		names := make([]string, 0, len(calls))
		for _, c := range calls {
			names = append(names, c.Name)
		}
		text := strings.TrimSpace(msg.TextContent)
		if text != "" {
			text += " "
		}
		return text + "[calls " + strings.Join(names, ", ") + "]"
	}
	var answered []string
	for _, p := range msg.Parts {
		if p.FunctionResponse != nil {
			answered = append(answered, p.FunctionResponse.Name)
		}
	}
	if len(answered) > 0 {
		return "[results of " + strings.Join(answered, ", ") + "]"
	}
	text := msg.TextContent
	if len(text) > 200 {
		text = text[:197] + "..."
	}
	return text
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session: %s\n", args[0])
	return nil
}

// shortID returns the leading part of a session id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatSessionTokens formats input/output tokens in compact form
func formatSessionTokens(input, output int) string {
	if input == 0 && output == 0 {
		return "-"
	}
	return fmt.Sprintf("%s/%s", formatSessionCount(input), formatSessionCount(output))
}

// formatSessionCount formats a number in compact form (e.g., 1k, 1.2k, 3.4M)
func formatSessionCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		val := float64(n) / 1000
		if val == float64(int(val)) {
			return fmt.Sprintf("%dk", int(val))
		}
		return fmt.Sprintf("%.1fk", val)
	}
	val := float64(n) / 1000000
	if val == float64(int(val)) {
		return fmt.Sprintf("%dM", int(val))
	}
	return fmt.Sprintf("%.1fM", val)
}

func formatRelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
	return t.Format("2006-01-02")
}
