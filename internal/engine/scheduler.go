package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/tools"
)

var (
	// ErrRegistryUnavailable is returned when the scheduler has no registry.
	ErrRegistryUnavailable = errors.New("scheduler: tool registry unavailable")
	// ErrSchedulerBusy is returned when batches overlap.
	ErrSchedulerBusy = errors.New("scheduler: a batch is already running")
	// ErrDuplicateCallID is returned when a batch repeats a call id.
	ErrDuplicateCallID = errors.New("scheduler: duplicate call id")
	// ErrNoPendingConfirmation is returned by Confirm for unknown call ids.
	ErrNoPendingConfirmation = errors.New("scheduler: no confirmation pending for call")
)

const (
	cancelledByUser      = "[Operation Cancelled] Reason: User did not allow tool call"
	cancelledByAbort     = "[Operation Cancelled] Reason: User cancelled the operation"
	cancelledByTimeout   = "[Operation Cancelled] Reason: Confirmation timed out"
	defaultMaxConcurrent = 4
	defaultCancelGrace   = 2 * time.Second
)

// ToolRegistry resolves tool names for the scheduler.
type ToolRegistry interface {
	Lookup(name string) (tools.Tool, bool)
	Suggest(name string) []string
}

// SchedulerOptions configures a Scheduler. Zero timeouts disable the limit.
type SchedulerOptions struct {
	ApprovalMode   tools.ApprovalMode
	Approvals      *tools.ApprovalCache
	ConfirmTimeout time.Duration
	ExecuteTimeout time.Duration
	MaxConcurrency int
	// OnUpdate observes snapshots of the batch after each transition.
	OnUpdate func([]ToolCall)
	Logger   *slog.Logger
}

// CompletedBatch is the result of Schedule.
type CompletedBatch struct {
	Calls []ToolCall
	// Content is a user content with one function response per call, in
	// request order.
	Content llm.Content
}

// AllCancelled reports whether every call ended cancelled.
func (b *CompletedBatch) AllCancelled() bool {
	if b == nil || len(b.Calls) == 0 {
		return false
	}
	for _, c := range b.Calls {
		if c.Status != StatusCancelled {
			return false
		}
	}
	return true
}

// Scheduler validates, confirms and executes batches of tool calls.
type Scheduler struct {
	registry  ToolRegistry
	opts      SchedulerOptions
	logger    *slog.Logger
	validator *schemaValidator

	// cancelGrace bounds the wait for a tool after its context ends.
	cancelGrace time.Duration

	mu      sync.Mutex
	running bool
	calls   []*ToolCall
	pending map[string]chan tools.ConfirmOutcome

	sinkMu sync.Mutex
}

// NewScheduler creates a scheduler over registry.
func NewScheduler(registry ToolRegistry, opts SchedulerOptions) *Scheduler {
	if opts.Approvals == nil {
		opts.Approvals = tools.NewApprovalCache()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrent
	}
	if opts.ApprovalMode == "" {
		opts.ApprovalMode = tools.ApprovalDefault
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry:    registry,
		opts:        opts,
		logger:      logger,
		validator:   newSchemaValidator(),
		cancelGrace: defaultCancelGrace,
		pending:     make(map[string]chan tools.ConfirmOutcome),
	}
}

// SetApprovalMode changes the approval mode for later batches.
func (s *Scheduler) SetApprovalMode(mode tools.ApprovalMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.ApprovalMode = mode
}

// Approvals returns the session approval cache.
func (s *Scheduler) Approvals() *tools.ApprovalCache {
	return s.opts.Approvals
}

// Confirm answers a ToolCallConfirmationEvent. It may be called from inside
// the event sink.
func (s *Scheduler) Confirm(callID string, outcome tools.ConfirmOutcome) error {
	s.mu.Lock()
	ch, ok := s.pending[callID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingConfirmation, callID)
	}
	select {
	case ch <- outcome:
		return nil
	default:
		return fmt.Errorf("%w: %s already answered", ErrNoPendingConfirmation, callID)
	}
}

// Schedule runs requests to completion and returns their records in request
// order. Events for the batch are delivered to sink one at a time.
func (s *Scheduler) Schedule(ctx context.Context, requests []ToolCallRequestInfo, sink func(Event)) (*CompletedBatch, error) {
	if s == nil || s.registry == nil {
		return nil, ErrRegistryUnavailable
	}
	if sink == nil {
		sink = func(Event) {}
	}
	if err := s.start(requests); err != nil {
		return nil, err
	}
	defer s.stop()

	s.notify()
	s.validateAll(sink)
	s.confirmAll(ctx, sink)
	s.executeAll(ctx, sink)

	return s.completed(), nil
}

func (s *Scheduler) start(requests []ToolCallRequestInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerBusy
	}
	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		if seen[req.CallID] {
			return fmt.Errorf("%w: %s", ErrDuplicateCallID, req.CallID)
		}
		seen[req.CallID] = true
	}

	now := time.Now()
	s.calls = make([]*ToolCall, len(requests))
	for i, req := range requests {
		s.calls[i] = &ToolCall{Request: req, Status: StatusReceived, StartTime: now}
	}
	s.running = true
	return nil
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.calls = nil
	clear(s.pending)
}

func (s *Scheduler) validateAll(sink func(Event)) {
	for _, call := range s.calls {
		s.setStatus(call, StatusValidating)

		tool, ok := s.registry.Lookup(call.Request.Name)
		if !ok {
			s.finishError(call, sink, tools.ErrUnknownTool, unknownToolMessage(call.Request.Name, s.registry.Suggest(call.Request.Name)))
			continue
		}
		s.mu.Lock()
		call.Tool = tool
		s.mu.Unlock()

		if err := s.validator.validate(tool, call.Request.Args); err != nil {
			s.finishError(call, sink, tools.ErrInvalidParams, err.Error())
		}
	}
}

func unknownToolMessage(name string, suggestions []string) string {
	msg := fmt.Sprintf("Tool %q not found in registry.", name)
	if len(suggestions) > 0 {
		quoted := make([]string, len(suggestions))
		for i, s := range suggestions {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		msg += " Did you mean one of: " + strings.Join(quoted, ", ") + "?"
	}
	return msg
}

// confirmAll resolves confirmations one call at a time in request order.
func (s *Scheduler) confirmAll(ctx context.Context, sink func(Event)) {
	for _, call := range s.calls {
		if s.status(call) != StatusValidating {
			continue
		}
		if ctx.Err() != nil {
			s.finishCancelled(call, sink, cancelledByAbort)
			continue
		}

		details, err := call.Tool.ShouldConfirmExecute(ctx, call.Request.Args)
		if err != nil {
			s.finishError(call, sink, tools.ErrorTypeOf(err, tools.ErrExecutionFailed), err.Error())
			continue
		}
		if details == nil || s.preapproved(call, details) {
			s.setStatus(call, StatusScheduled)
			continue
		}
		s.awaitConfirmation(ctx, call, details, sink)
	}
}

func (s *Scheduler) preapproved(call *ToolCall, details *tools.ConfirmationDetails) bool {
	s.mu.Lock()
	mode := s.opts.ApprovalMode
	s.mu.Unlock()

	switch {
	case mode == tools.ApprovalYolo:
		return true
	case mode == tools.ApprovalAutoEdit && call.Tool.Kind() == tools.KindEdit:
		return true
	}
	return s.opts.Approvals.Approved(call.Request.Name, details.ApprovalKey)
}

func (s *Scheduler) awaitConfirmation(ctx context.Context, call *ToolCall, details *tools.ConfirmationDetails, sink func(Event)) {
	ev := ToolCallConfirmationEvent{Request: call.Request, Details: *details}
	var timeout <-chan time.Time
	if s.opts.ConfirmTimeout > 0 {
		timer := time.NewTimer(s.opts.ConfirmTimeout)
		defer timer.Stop()
		timeout = timer.C
		ev.Deadline = time.Now().Add(s.opts.ConfirmTimeout)
	}

	ch := make(chan tools.ConfirmOutcome, 1)
	s.mu.Lock()
	call.Confirmation = details
	call.Status = StatusAwaitingConfirmation
	s.pending[call.Request.CallID] = ch
	s.mu.Unlock()
	s.notify()

	// The sink may block until the user answers, so the wait below runs
	// against the timer while the event is still being handled.
	delivered := s.emitAsync(sink, ev)

	var (
		outcome tools.ConfirmOutcome
		reason  string
	)
	select {
	case outcome = <-ch:
		// An answer given at the deadline lost the race with the timer.
		if !ev.Deadline.IsZero() && !time.Now().Before(ev.Deadline) {
			reason = cancelledByTimeout
		}
	case <-ctx.Done():
		reason = cancelledByAbort
	case <-timeout:
		reason = cancelledByTimeout
	}

	// Answers that arrive from here on are refused by Confirm.
	s.mu.Lock()
	delete(s.pending, call.Request.CallID)
	s.mu.Unlock()
	<-delivered

	switch reason {
	case cancelledByTimeout:
		s.logger.Warn("tool confirmation timed out", "call_id", call.Request.CallID, "tool", call.Request.Name)
		s.finishCancelled(call, sink, reason)
		return
	case cancelledByAbort:
		s.finishCancelled(call, sink, reason)
		return
	}

	s.mu.Lock()
	call.Outcome = outcome
	s.mu.Unlock()

	switch outcome {
	case tools.ProceedAlways:
		s.opts.Approvals.Set(call.Request.Name, details.ApprovalKey, tools.ProceedAlways)
		s.setStatus(call, StatusScheduled)
	case tools.ProceedOnce:
		s.setStatus(call, StatusScheduled)
	default:
		s.finishCancelled(call, sink, cancelledByUser)
	}
}

// executeAll runs every scheduled call. Calls sharing an exclusivity key run
// in request order within one lane; lanes run concurrently, bounded by
// MaxConcurrency.
func (s *Scheduler) executeAll(ctx context.Context, sink func(Event)) {
	var lanes [][]*ToolCall
	laneIndex := make(map[string]int)
	for _, call := range s.calls {
		if s.status(call) != StatusScheduled {
			continue
		}
		key := ""
		if et, ok := call.Tool.(tools.ExclusiveTool); ok {
			key = et.ExclusivityKey(call.Request.Args)
		}
		if key == "" {
			lanes = append(lanes, []*ToolCall{call})
			continue
		}
		if i, ok := laneIndex[key]; ok {
			lanes[i] = append(lanes[i], call)
			continue
		}
		laneIndex[key] = len(lanes)
		lanes = append(lanes, []*ToolCall{call})
	}

	sem := make(chan struct{}, s.opts.MaxConcurrency)
	var wg sync.WaitGroup
	for _, lane := range lanes {
		wg.Add(1)
		go func(lane []*ToolCall) {
			defer wg.Done()
			for _, call := range lane {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					s.finishCancelled(call, sink, cancelledByAbort)
					continue
				}
				s.execute(ctx, call, sink)
				<-sem
			}
		}(lane)
	}
	wg.Wait()
}

type execResult struct {
	result tools.Result
	err    error
}

func (s *Scheduler) execute(ctx context.Context, call *ToolCall, sink func(Event)) {
	if ctx.Err() != nil {
		s.finishCancelled(call, sink, cancelledByAbort)
		return
	}
	s.setStatus(call, StatusExecuting)

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.ExecuteTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, s.opts.ExecuteTimeout)
	}
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tool panicked", "tool", call.Request.Name, "call_id", call.Request.CallID, "panic", r)
				done <- execResult{err: fmt.Errorf("tool %s panicked: %v", call.Request.Name, r)}
			}
		}()
		res, err := call.Tool.Execute(execCtx, call.Request.Args)
		done <- execResult{result: res, err: err}
	}()

	var out execResult
	select {
	case out = <-done:
	case <-execCtx.Done():
		out = s.settle(call, done, execCtx.Err())
	}

	switch {
	case out.err == nil:
		s.finishSuccess(call, sink, out.result)
	case ctx.Err() != nil:
		s.finishCancelled(call, sink, cancelledByAbort)
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		s.finishError(call, sink, tools.ErrTimeout, fmt.Sprintf("Tool %s timed out after %s", call.Request.Name, s.opts.ExecuteTimeout))
	default:
		s.finishError(call, sink, tools.ErrorTypeOf(out.err, tools.ErrExecutionFailed), out.err.Error())
	}
}

// settle gives a tool whose context ended cancelGrace to return. A tool that
// still runs after that is abandoned and reported by its context error.
func (s *Scheduler) settle(call *ToolCall, done <-chan execResult, ctxErr error) execResult {
	timer := time.NewTimer(s.cancelGrace)
	defer timer.Stop()
	select {
	case out := <-done:
		return out
	case <-timer.C:
		s.logger.Warn("tool ignored cancellation; abandoning it", "tool", call.Request.Name, "call_id", call.Request.CallID, "grace", s.cancelGrace)
		return execResult{err: ctxErr}
	}
}

func (s *Scheduler) finishSuccess(call *ToolCall, sink func(Event), res tools.Result) {
	display := res.Display
	if display == "" {
		display = res.LLMContent
	}
	s.finish(call, sink, StatusSuccess, &ToolCallResponseInfo{
		CallID:        call.Request.CallID,
		ResponseParts: []llm.Part{responsePart(call.Request, "output", res.LLMContent)},
		ResultDisplay: display,
	})
}

func (s *Scheduler) finishError(call *ToolCall, sink func(Event), errType tools.ErrorType, msg string) {
	s.finish(call, sink, StatusError, &ToolCallResponseInfo{
		CallID:        call.Request.CallID,
		ResponseParts: []llm.Part{responsePart(call.Request, "error", msg)},
		ResultDisplay: msg,
		Error:         tools.NewToolError(errType, msg),
		ErrorType:     errType,
	})
}

func (s *Scheduler) finishCancelled(call *ToolCall, sink func(Event), reason string) {
	s.finish(call, sink, StatusCancelled, &ToolCallResponseInfo{
		CallID:        call.Request.CallID,
		ResponseParts: []llm.Part{responsePart(call.Request, "error", reason)},
		ResultDisplay: reason,
	})
}

func (s *Scheduler) finish(call *ToolCall, sink func(Event), status ToolCallStatus, resp *ToolCallResponseInfo) {
	s.mu.Lock()
	if call.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	call.Status = status
	call.Response = resp
	call.EndTime = time.Now()
	s.mu.Unlock()

	s.logger.Debug("tool call finished", "tool", call.Request.Name, "call_id", call.Request.CallID, "status", status, "duration", call.Duration())
	s.notify()
	s.emit(sink, ToolCallResponseEvent{Response: *resp})
}

func responsePart(req ToolCallRequestInfo, key, value string) llm.Part {
	return llm.NewFunctionResponsePart(llm.FunctionResponse{
		ID:       req.CallID,
		Name:     req.Name,
		Response: map[string]any{key: value},
	})
}

func (s *Scheduler) setStatus(call *ToolCall, status ToolCallStatus) {
	s.mu.Lock()
	call.Status = status
	s.mu.Unlock()
	s.notify()
}

func (s *Scheduler) status(call *ToolCall) ToolCallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return call.Status
}

func (s *Scheduler) snapshot() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolCall, len(s.calls))
	for i, c := range s.calls {
		out[i] = *c
	}
	return out
}

func (s *Scheduler) notify() {
	if s.opts.OnUpdate == nil {
		return
	}
	snap := s.snapshot()
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.opts.OnUpdate(snap)
}

func (s *Scheduler) emit(sink func(Event), ev Event) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	sink(ev)
}

// emitAsync delivers ev on its own goroutine. The returned channel closes
// once the sink returns; no other event is emitted before that.
func (s *Scheduler) emitAsync(sink func(Event), ev Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.emit(sink, ev)
	}()
	return done
}

func (s *Scheduler) completed() *CompletedBatch {
	calls := s.snapshot()
	batch := &CompletedBatch{
		Calls:   calls,
		Content: llm.Content{Role: llm.RoleUser},
	}
	for _, c := range calls {
		if c.Response != nil {
			batch.Content.Parts = append(batch.Content.Parts, c.Response.ResponseParts...)
		}
	}
	return batch
}
