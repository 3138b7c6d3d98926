package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/samsaffron/noma/internal/debuglog"
	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/session"
)

// ErrNoScheduler is returned by Run when the model asks for tools and the
// client has no scheduler.
var ErrNoScheduler = errors.New("client: no tool scheduler configured")

// ClientOptions configures a Client. Everything is optional.
type ClientOptions struct {
	// Provider names the backend in the debug log.
	Provider string
	// MaxSessionTurns caps model requests per client; 0 means unlimited.
	MaxSessionTurns int
	LoopDetection   bool
	Compressor      Compressor
	Scheduler       *Scheduler
	Reporter        ErrorReporter
	Logger          *slog.Logger
	DebugLog        *debuglog.Logger

	// Store persists history and metrics under SessionID.
	Store     session.Store
	SessionID string
}

// Client runs prompts against a chat: it guards the session turn limit,
// compresses history, detects loops and drives tool calls between turns.
type Client struct {
	chat   *Chat
	opts   ClientOptions
	logger *slog.Logger
	loop   *LoopDetector

	mu           sync.Mutex
	sessionTurns int
	lastPromptID string
	recorded     int
}

// NewClient creates a client over chat. History already in chat is treated
// as persisted.
func NewClient(chat *Chat, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.Store == nil {
		opts.Store = &session.NoopStore{}
	}
	return &Client{
		chat:     chat,
		opts:     opts,
		logger:   logger,
		loop:     NewLoopDetector(),
		recorded: len(chat.History(false)),
	}
}

// Chat returns the underlying chat.
func (c *Client) Chat() *Chat { return c.chat }

// ClearHistory drops the chat history. Stored messages are kept; entries
// added afterwards are recorded as new.
func (c *Client) ClearHistory() error {
	if err := c.chat.ClearHistory(); err != nil {
		return err
	}
	c.mu.Lock()
	c.recorded = 0
	c.mu.Unlock()
	return nil
}

// Scheduler returns the tool scheduler, if any.
func (c *Client) Scheduler() *Scheduler { return c.opts.Scheduler }

// SessionTurns returns the number of model requests made so far.
func (c *Client) SessionTurns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionTurns
}

// SendMessageStream runs one turn for parts. Loop detection state is reset
// whenever promptID changes.
func (c *Client) SendMessageStream(ctx context.Context, parts []llm.Part, promptID string) EventStream {
	return &clientStream{client: c, ctx: ctx, parts: parts, promptID: promptID}
}

// beginTurn counts the turn and reports whether it is within the limit.
func (c *Client) beginTurn(promptID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if promptID != c.lastPromptID {
		c.lastPromptID = promptID
		c.loop.Reset()
	}
	c.sessionTurns++
	if c.opts.MaxSessionTurns > 0 && c.sessionTurns > c.opts.MaxSessionTurns {
		return c.sessionTurns, false
	}
	return c.sessionTurns, true
}

func (c *Client) checkLoop(ev Event) (LoopKind, bool) {
	if !c.opts.LoopDetection {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop.Check(ev)
}

func (c *Client) logEvent(promptID string, ev Event) {
	c.opts.DebugLog.LogEvent(promptID, string(ev.Type()), ev)
}

// Run sends parts and keeps going while the model asks for tools: each
// batch of tool responses becomes the next turn's input. It returns when a
// turn requests no tools, or on cancellation, error, loop or turn limit.
// Events of turns and batches go to sink. The only errors returned are fatal
// ones (*llm.UnauthorizedError, scheduler misuse).
func (c *Client) Run(ctx context.Context, parts []llm.Part, promptID string, sink func(Event)) (err error) {
	if sink == nil {
		sink = func(Event) {}
	}
	store := c.opts.Store
	if c.opts.SessionID != "" {
		_ = store.IncrementUserTurns(ctx, c.opts.SessionID)
		_ = store.UpdateStatus(ctx, c.opts.SessionID, session.StatusActive)
	}

	status := session.StatusComplete
	defer func() {
		if err != nil {
			status = session.StatusError
		}
		if c.opts.SessionID != "" {
			// the prompt context may already be done
			_ = store.UpdateStatus(context.WithoutCancel(ctx), c.opts.SessionID, status)
		}
		c.opts.DebugLog.Flush()
	}()

	next := parts
	for fromBatch := false; ; fromBatch = true {
		requests, stop, err := c.runTurn(ctx, next, promptID, sink)
		if fromBatch && (err != nil || stop != nil) {
			c.keepUnsentResponses(next)
		}
		c.recordHistory(ctx, promptID)
		if err != nil {
			return err
		}
		if stop != nil {
			status = *stop
			return nil
		}
		if len(requests) == 0 {
			return nil
		}

		if c.opts.Scheduler == nil {
			return ErrNoScheduler
		}
		batch, err := c.opts.Scheduler.Schedule(ctx, requests, func(ev Event) {
			c.logEvent(promptID, ev)
			sink(ev)
		})
		if err != nil {
			return fmt.Errorf("schedule tool calls: %w", err)
		}
		c.recordMetrics(ctx, 0, len(batch.Calls), nil)

		if ctx.Err() != nil || batch.AllCancelled() {
			// the calls stay answered in history; nothing goes back to the model
			if err := c.chat.AddHistory(batch.Content); err != nil {
				return err
			}
			c.recordHistory(ctx, promptID)
			if ctx.Err() != nil {
				ev := UserCancelledEvent{}
				c.logEvent(promptID, ev)
				sink(ev)
				status = session.StatusInterrupted
			}
			return nil
		}
		next = batch.Content.Parts
	}
}

// runTurn drains one turn. stop is set when the loop must end with that
// session status.
func (c *Client) runTurn(ctx context.Context, parts []llm.Part, promptID string, sink func(Event)) ([]ToolCallRequestInfo, *session.SessionStatus, error) {
	stream := c.SendMessageStream(ctx, parts, promptID)
	defer stream.Close()

	var requests []ToolCallRequestInfo
	var stop *session.SessionStatus
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return requests, stop, nil
		}
		if err != nil {
			return nil, nil, err
		}
		sink(ev)

		switch e := ev.(type) {
		case ToolCallRequestEvent:
			requests = append(requests, e.Request)
		case UserCancelledEvent:
			stop = statusPtr(session.StatusInterrupted)
		case ErrorEvent:
			stop = statusPtr(session.StatusError)
		case LoopDetectedEvent, MaxSessionTurnsEvent:
			stop = statusPtr(session.StatusInterrupted)
		}
	}
}

// keepUnsentResponses appends tool responses whose turn never completed,
// so history does not end on unanswered calls.
func (c *Client) keepUnsentResponses(parts []llm.Part) {
	history := c.chat.History(false)
	if len(history) == 0 || !llm.IsFunctionCall(history[len(history)-1]) {
		return
	}
	if err := c.chat.AddHistory(llm.UserContent(parts...)); err != nil {
		c.logger.Warn("failed to keep tool responses", "error", err)
	}
}

func statusPtr(s session.SessionStatus) *session.SessionStatus { return &s }

// recordHistory persists history entries added since the last call.
func (c *Client) recordHistory(ctx context.Context, promptID string) {
	history := c.chat.History(false)
	c.mu.Lock()
	from := min(c.recorded, len(history))
	c.recorded = len(history)
	c.mu.Unlock()

	if c.opts.SessionID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, content := range history[from:] {
		msg := session.NewMessage(c.opts.SessionID, promptID, content, -1)
		if err := c.opts.Store.AddMessage(ctx, c.opts.SessionID, msg); err != nil {
			c.logger.Warn("failed to record message", "prompt_id", promptID, "error", err)
			return
		}
	}
}

func (c *Client) recordMetrics(ctx context.Context, llmTurns, toolCalls int, usage *llm.Usage) {
	if c.opts.SessionID == "" {
		return
	}
	var in, out int
	if usage != nil {
		in, out = usage.InputTokens, usage.OutputTokens
	}
	_ = c.opts.Store.UpdateMetrics(context.WithoutCancel(ctx), c.opts.SessionID, llmTurns, toolCalls, in, out)
}

// clientStream wraps one Turn with the turn limit, compression, loop
// detection and logging.
type clientStream struct {
	client   *Client
	ctx      context.Context
	parts    []llm.Part
	promptID string

	turn      *Turn
	inner     EventStream
	started   bool
	done      bool
	queue     []Event
	logged    int
	usage     llm.Usage
	hasUsage  bool
	finalized bool
}

func (s *clientStream) Recv() (Event, error) {
	if !s.started {
		s.started = true
		s.start()
	}
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.client.logEvent(s.promptID, ev)
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}

		ev, err := s.inner.Recv()
		s.logFragments()
		if errors.Is(err, io.EOF) {
			s.finish()
			return nil, io.EOF
		}
		if err != nil {
			s.client.opts.DebugLog.LogEvent(s.promptID, string(EventError), ErrorEvent{Error: StructuredError{Message: err.Error()}})
			s.finish()
			return nil, err
		}

		if kind, ok := s.client.checkLoop(ev); ok {
			s.client.logger.Warn("loop detected", "prompt_id", s.promptID, "kind", kind)
			s.queue = append(s.queue, LoopDetectedEvent{Kind: kind})
			s.finish()
			continue
		}
		s.queue = append(s.queue, ev)
	}
}

func (s *clientStream) start() {
	c := s.client
	turnNo, ok := c.beginTurn(s.promptID)
	if !ok {
		s.queue = append(s.queue, MaxSessionTurnsEvent{})
		s.done = true
		return
	}

	if c.opts.Compressor != nil {
		info, err := c.opts.Compressor.Compress(s.ctx, c.chat, s.promptID)
		switch {
		case err != nil:
			c.logger.Warn("history compression failed", "prompt_id", s.promptID, "error", err)
		case info != nil:
			// the store keeps the full transcript; only later entries are new
			c.mu.Lock()
			c.recorded = len(c.chat.History(false))
			c.mu.Unlock()
			s.queue = append(s.queue, ChatCompressedEvent{Info: info})
		}
	}

	c.opts.DebugLog.LogRequest(s.promptID, turnNo, c.opts.Provider, c.chat.PreviewRequest(s.parts))
	s.turn = NewTurn(c.chat, s.promptID, WithReporter(c.opts.Reporter), WithLogger(c.logger))
	s.inner = s.turn.Run(s.ctx, s.parts)
}

// logFragments writes fragments the turn has seen since the last call.
func (s *clientStream) logFragments() {
	if s.turn == nil {
		return
	}
	fragments := s.turn.DebugResponses()
	for _, resp := range fragments[s.logged:] {
		s.client.opts.DebugLog.LogFragment(s.promptID, resp)
		if resp.Usage != nil {
			// backends report cumulative usage on the last fragment
			s.usage = *resp.Usage
			s.hasUsage = true
		}
	}
	s.logged = len(fragments)
}

// finish closes the turn and records its metrics once.
func (s *clientStream) finish() {
	s.done = true
	if s.inner != nil {
		_ = s.inner.Close()
	}
	if s.finalized || s.turn == nil {
		return
	}
	s.finalized = true
	var usage *llm.Usage
	if s.hasUsage {
		usage = &s.usage
	}
	s.client.recordMetrics(s.ctx, 1, 0, usage)
}

func (s *clientStream) Close() error {
	s.queue = nil
	s.finish()
	return nil
}
