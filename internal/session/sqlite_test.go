package session

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/noma/internal/llm"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Enabled: true, Path: filepath.Join(t.TempDir(), "sessions.db")})
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createSession(t *testing.T, store Store) *Session {
	t.Helper()
	sess := &Session{Provider: "openai", Model: "gpt-4o-mini", Summary: "fix the tests"}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected Create to assign an id")
	}
	return sess
}

func addMessage(t *testing.T, store Store, sessionID, promptID string, c llm.Content) {
	t.Helper()
	if err := store.AddMessage(context.Background(), sessionID, NewMessage(sessionID, promptID, c, -1)); err != nil {
		t.Fatalf("failed to add message: %v", err)
	}
}

func TestSQLiteStoreDefaultPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := NewSQLiteStore(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	defer store.Close()

	path, err := GetDBPath(DefaultConfig())
	if err != nil {
		t.Fatalf("GetDBPath: %v", err)
	}
	want := filepath.Join(os.Getenv("XDG_DATA_HOME"), "noma", "sessions.db")
	if path != want {
		t.Errorf("expected db path %q, got %q", want, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database file at %s: %v", path, err)
	}
}

func TestSQLiteStoreCustomPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "custom", "sessions.db")

	store, err := NewSQLiteStore(Config{Enabled: true, Path: dbPath})
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("expected database file at %s: %v", dbPath, err)
	}
}

func TestSQLiteStoreSessionCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store)

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected session to exist")
	}
	if loaded.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", loaded.Provider)
	}
	if loaded.Status != StatusActive {
		t.Errorf("expected status %q, got %q", StatusActive, loaded.Status)
	}

	loaded.Name = "renamed"
	if err := store.Update(ctx, loaded); err != nil {
		t.Fatalf("failed to update session: %v", err)
	}
	reloaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	if reloaded.Name != "renamed" {
		t.Errorf("expected name renamed, got %q", reloaded.Name)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}
	gone, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if gone != nil {
		t.Errorf("expected deleted session to be gone, got %+v", gone)
	}

	if err := store.Delete(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	if err := store.Update(ctx, &Session{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound updating unknown session, got %v", err)
	}
}

func TestSQLiteStoreUpdateMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store)

	if err := store.UpdateMetrics(ctx, sess.ID, 2, 3, 1000, 250); err != nil {
		t.Fatalf("failed to update session metrics: %v", err)
	}
	if err := store.UpdateMetrics(ctx, sess.ID, 1, 0, 10, 5); err != nil {
		t.Fatalf("failed to update session metrics: %v", err)
	}
	if err := store.IncrementUserTurns(ctx, sess.ID); err != nil {
		t.Fatalf("failed to increment user turns: %v", err)
	}
	if err := store.UpdateStatus(ctx, sess.ID, StatusComplete); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if loaded.LLMTurns != 3 {
		t.Errorf("expected llm_turns=3, got %d", loaded.LLMTurns)
	}
	if loaded.ToolCalls != 3 {
		t.Errorf("expected tool_calls=3, got %d", loaded.ToolCalls)
	}
	if loaded.InputTokens != 1010 {
		t.Errorf("expected input_tokens=1010, got %d", loaded.InputTokens)
	}
	if loaded.OutputTokens != 255 {
		t.Errorf("expected output_tokens=255, got %d", loaded.OutputTokens)
	}
	if loaded.UserTurns != 1 {
		t.Errorf("expected user_turns=1, got %d", loaded.UserTurns)
	}
	if loaded.Status != StatusComplete {
		t.Errorf("expected status %q, got %q", StatusComplete, loaded.Status)
	}

	summaries, err := store.List(ctx, ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 session summary, got %d", len(summaries))
	}
	if summaries[0].InputTokens != 1010 {
		t.Errorf("expected summary input_tokens=1010, got %d", summaries[0].InputTokens)
	}
}

func TestSQLiteStoreMessagesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, store)

	history := []llm.Content{
		llm.UserText("list the files"),
		llm.ModelContent(
			llm.NewTextPart("Looking."),
			llm.NewFunctionCallPart(llm.FunctionCall{ID: "glob-1", Name: "glob", Args: map[string]any{"pattern": "*.go"}}),
		),
		llm.UserContent(llm.NewFunctionResponsePart(llm.FunctionResponse{
			ID: "glob-1", Name: "glob", Response: map[string]any{"output": "main.go"},
		})),
		llm.ModelContent(llm.NewTextPart("There is main.go.")),
	}
	for _, c := range history {
		addMessage(t, store, sess.ID, "p1", c)
	}

	messages, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("failed to get messages: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	for i, m := range messages {
		if m.Sequence != i {
			t.Errorf("message %d: expected sequence %d, got %d", i, i, m.Sequence)
		}
		if m.PromptID != "p1" {
			t.Errorf("message %d: expected prompt id p1, got %q", i, m.PromptID)
		}
	}
	if messages[1].TextContent != "Looking." {
		t.Errorf("expected extracted text %q, got %q", "Looking.", messages[1].TextContent)
	}

	contents := Contents(messages)
	if len(contents) != 4 {
		t.Fatalf("expected 4 contents, got %d", len(contents))
	}
	calls := contents[1].FunctionCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 function call, got %d", len(calls))
	}
	if calls[0].ID != "glob-1" || calls[0].Args["pattern"] != "*.go" {
		t.Errorf("function call did not survive the round trip: %+v", calls[0])
	}
	if !llm.IsFunctionResponse(contents[2]) {
		t.Fatal("expected third content to be a function response")
	}
	if got := contents[2].Parts[0].FunctionResponse.Response["output"]; got != "main.go" {
		t.Errorf("expected response output main.go, got %v", got)
	}

	page, err := store.GetMessages(ctx, sess.ID, 2, 1)
	if err != nil {
		t.Fatalf("failed to page messages: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 messages in page, got %d", len(page))
	}
	if page[0].Sequence != 1 {
		t.Errorf("expected page to start at sequence 1, got %d", page[0].Sequence)
	}
}

func TestSQLiteStoreRejectsUnknownRole(t *testing.T) {
	store := newTestStore(t)
	sess := createSession(t, store)

	msg := NewMessage(sess.ID, "", llm.Content{Role: "assistant", Parts: []llm.Part{llm.NewTextPart("hi")}}, -1)
	if err := store.AddMessage(context.Background(), sess.ID, msg); err == nil {
		t.Fatal("expected an error for role assistant")
	}
}

func TestSQLiteStoreSearch(t *testing.T) {
	store := newTestStore(t)
	sess := createSession(t, store)

	addMessage(t, store, sess.ID, "", llm.UserText("refactor the scheduler"))
	addMessage(t, store, sess.ID, "", llm.ModelContent(llm.NewTextPart("done")))

	results, err := store.Search(context.Background(), "scheduler", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].SessionID != sess.ID {
		t.Errorf("expected result from session %s, got %s", sess.ID, results[0].SessionID)
	}
	if !strings.Contains(results[0].Snippet, "**scheduler**") {
		t.Errorf("expected highlighted match in snippet, got %q", results[0].Snippet)
	}
}

func TestSQLiteStoreCurrentSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	current, err := store.GetCurrent(ctx)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if current != nil {
		t.Fatalf("expected no current session, got %s", current.ID)
	}

	sess := createSession(t, store)
	if err := store.SetCurrent(ctx, sess.ID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	current, err = store.GetCurrent(ctx)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if current == nil || current.ID != sess.ID {
		t.Fatalf("expected current session %s, got %+v", sess.ID, current)
	}

	if err := store.ClearCurrent(ctx); err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	current, err = store.GetCurrent(ctx)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if current != nil {
		t.Errorf("expected current session cleared, got %s", current.ID)
	}
}

func TestSQLiteStoreMaxCountCleanup(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Enabled: true, Path: dbPath})
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := store.Create(ctx, &Session{Provider: "openai", Model: "m", CreatedAt: ts, UpdatedAt: ts}); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = NewSQLiteStore(Config{Enabled: true, Path: dbPath, MaxCount: 1})
	if err != nil {
		t.Fatalf("failed to reopen sqlite store: %v", err)
	}
	defer store.Close()

	summaries, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(summaries) != 1 {
		t.Errorf("expected cleanup to keep 1 session, got %d", len(summaries))
	}
}

func TestSQLiteStoreSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLiteStore(Config{Enabled: true, Path: dbPath})
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	rows, err := store.db.Query(`PRAGMA table_info(messages)`)
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	var hasPromptID bool
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		if name == "prompt_id" {
			hasPromptID = true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	rows.Close()
	if !hasPromptID {
		t.Error("expected prompt_id column in a fresh database")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopening leaves a single version row
	store, err = NewSQLiteStore(Config{Enabled: true, Path: dbPath})
	if err != nil {
		t.Fatalf("failed to reopen sqlite store: %v", err)
	}
	var count, version int
	if err := store.db.QueryRow("SELECT COUNT(*), MAX(version) FROM schema_version").Scan(&count, &version); err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if count != 1 || version != schemaVersion {
		t.Errorf("expected one row at version %d, got %d rows at version %d", schemaVersion, count, version)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	if _, err := store.db.Exec("UPDATE schema_version SET version = ?", schemaVersion+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	store.Close()

	if _, err := NewSQLiteStore(Config{Enabled: true, Path: dbPath}); err == nil {
		t.Fatal("expected a newer schema version to be refused")
	}
}

func TestNewStoreDisabled(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.(*NoopStore); !ok {
		t.Fatalf("expected *NoopStore when storage is disabled, got %T", store)
	}
}

func TestTruncateSummary(t *testing.T) {
	if got := TruncateSummary("  first line\nsecond"); got != "first line" {
		t.Errorf("expected first line only, got %q", got)
	}
	if got := TruncateSummary(string(make([]byte, 150))); len(got) != 100 {
		t.Errorf("expected summary truncated to 100 bytes, got %d", len(got))
	}
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	store := &NoopStore{}

	sess := &Session{Provider: "gemini"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected Create to assign an id")
	}
	if sess.CreatedAt.IsZero() {
		t.Error("expected Create to set CreatedAt")
	}
	if sess.Status != StatusActive {
		t.Errorf("expected status %q, got %q", StatusActive, sess.Status)
	}

	addMessage(t, store, sess.ID, "p", llm.UserText("hi"))
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nothing stored, got %+v", got)
	}
	msgs, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}
