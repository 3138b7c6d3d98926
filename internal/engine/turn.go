package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samsaffron/noma/internal/llm"
)

// ErrTurnAlreadyRun is yielded when Run is called twice on the same Turn.
var ErrTurnAlreadyRun = errors.New("turn: already run")

const (
	undefinedToolName = "undefined_tool_name"
	apiErrorMessage   = "Error when talking to the model API"
	sendOperation     = "Turn.Run-SendMessageStream"
)

// EventStream is a single-consumer pull sequence of events. Recv returns
// io.EOF when the sequence ends. The only other error is a fatal
// *llm.UnauthorizedError, or ErrTurnAlreadyRun for a reused Turn.
type EventStream interface {
	Recv() (Event, error)
	Close() error
}

// Turn interprets one streamed model response as events.
type Turn struct {
	chat     *Chat
	promptID string
	reporter ErrorReporter
	logger   *slog.Logger

	mu               sync.Mutex
	ran              bool
	pendingToolCalls []ToolCallRequestInfo
	debugResponses   []*llm.Response
	finishReason     llm.FinishReason
}

// TurnOption configures a Turn.
type TurnOption func(*Turn)

// WithReporter sets where backend failures are reported.
func WithReporter(r ErrorReporter) TurnOption {
	return func(t *Turn) {
		if r != nil {
			t.reporter = r
		}
	}
}

// WithLogger sets the logger for fragment tracing.
func WithLogger(l *slog.Logger) TurnOption {
	return func(t *Turn) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTurn creates a turn over chat.
func NewTurn(chat *Chat, promptID string, opts ...TurnOption) *Turn {
	t := &Turn{
		chat:     chat,
		promptID: promptID,
		reporter: nopReporter{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PromptID returns the prompt this turn belongs to.
func (t *Turn) PromptID() string { return t.promptID }

// PendingToolCalls returns the tool calls requested so far.
func (t *Turn) PendingToolCalls() []ToolCallRequestInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ToolCallRequestInfo(nil), t.pendingToolCalls...)
}

// DebugResponses returns the raw fragments processed so far.
func (t *Turn) DebugResponses() []*llm.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*llm.Response(nil), t.debugResponses...)
}

// FinishReason returns the first finish reason seen, if any.
func (t *Turn) FinishReason() llm.FinishReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishReason
}

// Run sends req and returns the resulting events. Nothing is sent until the
// first Recv.
func (t *Turn) Run(ctx context.Context, req []llm.Part) EventStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ran {
		return &turnStream{done: true, err: ErrTurnAlreadyRun}
	}
	t.ran = true
	return &turnStream{turn: t, ctx: ctx, req: req}
}

// turnStream drives the chat stream one fragment per refill.
type turnStream struct {
	turn *Turn
	ctx  context.Context
	req  []llm.Part

	stream   llm.Stream
	started  bool
	finished bool
	queue    []Event
	done     bool
	err      error
}

func (s *turnStream) Recv() (Event, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.err != nil {
			err := s.err
			s.err = nil
			return nil, err
		}
		if s.done {
			return nil, io.EOF
		}
		s.step()
	}
}

func (s *turnStream) Close() error {
	s.done = true
	s.queue = nil
	if s.stream != nil {
		err := s.stream.Close()
		s.stream = nil
		return err
	}
	return nil
}

// step pulls one fragment and queues the events it produces.
func (s *turnStream) step() {
	if !s.started {
		s.started = true
		if s.ctx.Err() != nil {
			s.cancelled()
			return
		}
		stream, err := s.turn.chat.SendMessageStream(s.ctx, s.req, s.turn.promptID)
		if err != nil {
			s.fail(err)
			return
		}
		s.stream = stream
	}

	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		s.Close()
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	if s.ctx.Err() != nil {
		s.cancelled()
		return
	}
	if resp == nil {
		return
	}
	s.handle(resp)
}

func (s *turnStream) handle(resp *llm.Response) {
	t := s.turn
	t.mu.Lock()
	t.debugResponses = append(t.debugResponses, resp)
	t.mu.Unlock()
	t.logger.Debug("turn fragment", "prompt_id", t.promptID, "parts", len(resp.Content.Parts), "finish_reason", resp.FinishReason)

	parts := resp.Content.Parts
	if len(parts) > 0 && parts[0].Type == llm.PartThought {
		s.queue = append(s.queue, ThoughtEvent{Thought: ParseThought(parts[0].Text)})
		return
	}

	if !s.finished {
		if text := resp.Text(); text != "" {
			s.queue = append(s.queue, ContentEvent{Text: text})
		}
		for i := range parts {
			if parts[i].Type != llm.PartFunctionCall || parts[i].FunctionCall == nil {
				continue
			}
			info := s.toolCallRequest(parts[i].FunctionCall)
			t.mu.Lock()
			t.pendingToolCalls = append(t.pendingToolCalls, info)
			t.mu.Unlock()
			s.queue = append(s.queue, ToolCallRequestEvent{Request: info})
		}
	}

	// Every reason is reported and the last one wins; content and tool calls
	// stop after the first.
	if resp.FinishReason != "" {
		s.finished = true
		t.mu.Lock()
		t.finishReason = resp.FinishReason
		t.mu.Unlock()
		s.queue = append(s.queue, FinishedEvent{Reason: resp.FinishReason})
	}
}

// toolCallRequest fills in the defaults of fc in place, so the recorded
// history carries the same id the scheduler answers with.
func (s *turnStream) toolCallRequest(fc *llm.FunctionCall) ToolCallRequestInfo {
	if fc.Name == "" {
		fc.Name = undefinedToolName
	}
	if fc.ID == "" {
		fc.ID = newCallID(fc.Name)
	}
	if fc.Args == nil {
		fc.Args = map[string]any{}
	}
	return ToolCallRequestInfo{
		CallID:   fc.ID,
		Name:     fc.Name,
		Args:     fc.Args,
		PromptID: s.turn.promptID,
	}
}

func (s *turnStream) cancelled() {
	s.Close()
	s.queue = append(s.queue, UserCancelledEvent{})
}

func (s *turnStream) fail(err error) {
	s.Close()
	t := s.turn

	friendly := llm.ToFriendlyError(err)
	if llm.IsUnauthorized(friendly) {
		s.err = friendly
		return
	}
	if s.ctx.Err() != nil {
		s.queue = append(s.queue, UserCancelledEvent{})
		return
	}

	se := StructuredError{Message: llm.ErrorMessage(friendly)}
	if status, ok := llm.ErrorStatus(friendly); ok {
		se.Status = &status
	}
	t.chat.MaybeIncludeSchemaDepthContext(&se)

	contents := append(t.chat.History(true), llm.UserContent(s.req...))
	t.reporter.Report(s.ctx, err, apiErrorMessage, contents, sendOperation)
	s.queue = append(s.queue, ErrorEvent{Error: se})
}

// newCallID returns name-<unix millis>-<random hex>.
func newCallID(name string) string {
	randBytes := make([]byte, 6)
	_, _ = rand.Read(randBytes)
	return fmt.Sprintf("%s-%d-%s", name, time.Now().UnixMilli(), hex.EncodeToString(randBytes))
}
