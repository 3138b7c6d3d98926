package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/noma/internal/llm"
	"github.com/samsaffron/noma/internal/testutil"
	"github.com/samsaffron/noma/internal/tools"
)

// eventLog is a concurrency-safe event sink.
type eventLog struct {
	mu      sync.Mutex
	events  []Event
	onEvent func(Event)
}

func (l *eventLog) sink(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if l.onEvent != nil {
		l.onEvent(ev)
	}
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type() == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type()
	}
	return out
}

func newRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func req(id, name string, args map[string]any) ToolCallRequestInfo {
	return ToolCallRequestInfo{CallID: id, Name: name, Args: args, PromptID: "p1"}
}

func responseValue(t *testing.T, call ToolCall, key string) string {
	t.Helper()
	require.NotNil(t, call.Response)
	require.Len(t, call.Response.ResponseParts, 1)
	fr := call.Response.ResponseParts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, call.Request.CallID, fr.ID)
	assert.Equal(t, call.Request.Name, fr.Name)
	v, _ := fr.Response[key].(string)
	return v
}

func confirmingTool(name string, key string) *testutil.MockTool {
	tool := testutil.NewMockTool(name, "ran "+name)
	tool.ConfirmFn = func(ctx context.Context, args map[string]any) (*tools.ConfirmationDetails, error) {
		return &tools.ConfirmationDetails{Type: tools.ConfirmExec, Title: "Run " + name, ApprovalKey: key}, nil
	}
	return tool
}

func TestScheduleSuccessInRequestOrder(t *testing.T) {
	slow := testutil.NewMockToolWithSchema("slow", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		time.Sleep(30 * time.Millisecond)
		return tools.Result{LLMContent: "slow done", Display: "slow!"}, nil
	})
	fast := testutil.NewMockTool("fast", "fast done")
	s := NewScheduler(newRegistry(t, slow, fast), SchedulerOptions{})
	log := &eventLog{}

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{
		req("1", "slow", nil),
		req("2", "fast", nil),
	}, log.sink)
	require.NoError(t, err)

	require.Len(t, batch.Calls, 2)
	assert.Equal(t, StatusSuccess, batch.Calls[0].Status)
	assert.Equal(t, StatusSuccess, batch.Calls[1].Status)
	assert.Equal(t, "slow done", responseValue(t, batch.Calls[0], "output"))
	assert.Equal(t, "slow!", batch.Calls[0].Response.ResultDisplay)
	assert.Equal(t, "fast done", batch.Calls[1].Response.ResultDisplay)
	assert.False(t, batch.Calls[0].EndTime.IsZero())
	assert.Positive(t, batch.Calls[0].Duration())

	assert.Equal(t, llm.RoleUser, batch.Content.Role)
	require.Len(t, batch.Content.Parts, 2)
	assert.Equal(t, "1", batch.Content.Parts[0].FunctionResponse.ID)
	assert.Equal(t, "2", batch.Content.Parts[1].FunctionResponse.ID)

	assert.Len(t, log.ofType(EventToolCallResponse), 2)
	assert.False(t, batch.AllCancelled())
}

func TestScheduleUnknownTool(t *testing.T) {
	s := NewScheduler(newRegistry(t, testutil.NewMockTool("read_file", "")), SchedulerOptions{})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "read_fil", nil)}, nil)
	require.NoError(t, err)

	call := batch.Calls[0]
	assert.Equal(t, StatusError, call.Status)
	assert.Equal(t, tools.ErrUnknownTool, call.Response.ErrorType)
	msg := responseValue(t, call, "error")
	assert.Contains(t, msg, `Tool "read_fil" not found in registry.`)
	assert.Contains(t, msg, `Did you mean one of: "read_file"?`)

	var toolErr *tools.ToolError
	require.ErrorAs(t, call.Response.Error, &toolErr)
	assert.Equal(t, tools.ErrUnknownTool, toolErr.Type)
}

func TestScheduleInvalidParams(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []any{"path"},
	}
	strict := testutil.NewMockToolWithSchema("strict", "", schema, nil)
	picky := testutil.NewMockTool("picky", "")
	picky.ValidateFn = func(args map[string]any) error { return errors.New("path must be absolute") }
	s := NewScheduler(newRegistry(t, strict, picky), SchedulerOptions{})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{
		req("1", "strict", map[string]any{}),
		req("2", "strict", map[string]any{"path": 42}),
		req("3", "strict", map[string]any{"path": "/tmp/x"}),
		req("4", "picky", nil),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, tools.ErrInvalidParams, batch.Calls[0].Response.ErrorType)
	assert.Equal(t, tools.ErrInvalidParams, batch.Calls[1].Response.ErrorType)
	assert.Equal(t, StatusSuccess, batch.Calls[2].Status)
	assert.Equal(t, tools.ErrInvalidParams, batch.Calls[3].Response.ErrorType)
	assert.Equal(t, "path must be absolute", responseValue(t, batch.Calls[3], "error"))
	assert.Equal(t, 1, strict.InvocationCount())
	assert.Zero(t, picky.InvocationCount())
}

func TestScheduleConfirmOnce(t *testing.T) {
	tool := confirmingTool("shell", "git")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})
	log := &eventLog{}
	log.onEvent = func(ev Event) {
		if c, ok := ev.(ToolCallConfirmationEvent); ok {
			assert.Equal(t, "Run shell", c.Details.Title)
			assert.NoError(t, s.Confirm(c.Request.CallID, tools.ProceedOnce))
		}
	}

	for i := 0; i < 2; i++ {
		batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("c", "shell", nil)}, log.sink)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, batch.Calls[0].Status)
		assert.Equal(t, tools.ProceedOnce, batch.Calls[0].Outcome)
		require.NotNil(t, batch.Calls[0].Confirmation)
	}
	// once does not stick
	assert.Len(t, log.ofType(EventToolCallConfirmation), 2)
	assert.Equal(t, 2, tool.InvocationCount())
}

func TestScheduleConfirmAlways(t *testing.T) {
	tool := confirmingTool("shell", "git")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})
	log := &eventLog{}
	log.onEvent = func(ev Event) {
		if c, ok := ev.(ToolCallConfirmationEvent); ok {
			assert.NoError(t, s.Confirm(c.Request.CallID, tools.ProceedAlways))
		}
	}

	_, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("a", "shell", nil)}, log.sink)
	require.NoError(t, err)
	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("b", "shell", nil)}, log.sink)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, batch.Calls[0].Status)
	assert.Len(t, log.ofType(EventToolCallConfirmation), 1)
	assert.True(t, s.Approvals().Approved("shell", "git"))
	assert.False(t, s.Approvals().Approved("shell", "rm"))
}

func TestScheduleConfirmCancel(t *testing.T) {
	tool := confirmingTool("shell", "rm")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})
	log := &eventLog{}
	log.onEvent = func(ev Event) {
		if c, ok := ev.(ToolCallConfirmationEvent); ok {
			assert.NoError(t, s.Confirm(c.Request.CallID, tools.Cancel))
		}
	}

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("x", "shell", nil)}, log.sink)
	require.NoError(t, err)

	call := batch.Calls[0]
	assert.Equal(t, StatusCancelled, call.Status)
	assert.Equal(t, cancelledByUser, responseValue(t, call, "error"))
	assert.Empty(t, call.Response.ErrorType)
	assert.Zero(t, tool.InvocationCount())
	assert.True(t, batch.AllCancelled())
}

func TestScheduleContextCancelledDuringConfirmation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tool := confirmingTool("shell", "ls")
	other := testutil.NewMockTool("other", "x")
	s := NewScheduler(newRegistry(t, tool, other), SchedulerOptions{})
	log := &eventLog{onEvent: func(ev Event) {
		if ev.Type() == EventToolCallConfirmation {
			cancel()
		}
	}}

	batch, err := s.Schedule(ctx, []ToolCallRequestInfo{req("1", "shell", nil), req("2", "other", nil)}, log.sink)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, batch.Calls[0].Status)
	assert.Equal(t, cancelledByAbort, responseValue(t, batch.Calls[0], "error"))
	assert.Equal(t, StatusCancelled, batch.Calls[1].Status)
	assert.Zero(t, other.InvocationCount())
	assert.True(t, batch.AllCancelled())
}

func TestScheduleConfirmTimeout(t *testing.T) {
	tool := confirmingTool("shell", "ls")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{ConfirmTimeout: 20 * time.Millisecond})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "shell", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, batch.Calls[0].Status)
	assert.Equal(t, cancelledByTimeout, responseValue(t, batch.Calls[0], "error"))

	// the pending confirmation is gone
	assert.ErrorIs(t, s.Confirm("1", tools.ProceedOnce), ErrNoPendingConfirmation)
}

func TestScheduleConfirmAnsweredAfterTimeout(t *testing.T) {
	tool := confirmingTool("shell", "ls")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{ConfirmTimeout: 20 * time.Millisecond})
	var late error
	log := &eventLog{}
	log.onEvent = func(ev Event) {
		if c, ok := ev.(ToolCallConfirmationEvent); ok {
			assert.False(t, c.Deadline.IsZero())
			// a user who takes longer than the timeout to answer
			time.Sleep(100 * time.Millisecond)
			late = s.Confirm(c.Request.CallID, tools.ProceedOnce)
		}
	}

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "shell", nil)}, log.sink)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, batch.Calls[0].Status)
	assert.Equal(t, cancelledByTimeout, responseValue(t, batch.Calls[0], "error"))
	assert.ErrorIs(t, late, ErrNoPendingConfirmation)
	assert.Zero(t, tool.InvocationCount())
	assert.Equal(t, []EventType{EventToolCallConfirmation, EventToolCallResponse}, log.types())
}

func TestScheduleApprovalModes(t *testing.T) {
	edit := confirmingTool("write_file", "")
	edit.ToolKind = tools.KindEdit
	shell := confirmingTool("shell", "ls")

	tests := []struct {
		mode          tools.ApprovalMode
		confirmations int
	}{
		{tools.ApprovalDefault, 2},
		{tools.ApprovalAutoEdit, 1},
		{tools.ApprovalYolo, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			s := NewScheduler(newRegistry(t, edit, shell), SchedulerOptions{})
			s.SetApprovalMode(tt.mode)
			log := &eventLog{}
			log.onEvent = func(ev Event) {
				if c, ok := ev.(ToolCallConfirmationEvent); ok {
					assert.NoError(t, s.Confirm(c.Request.CallID, tools.ProceedOnce))
				}
			}
			batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{
				req("1", "write_file", nil),
				req("2", "shell", nil),
			}, log.sink)
			require.NoError(t, err)
			assert.Len(t, log.ofType(EventToolCallConfirmation), tt.confirmations)
			assert.Equal(t, StatusSuccess, batch.Calls[0].Status)
			assert.Equal(t, StatusSuccess, batch.Calls[1].Status)
		})
	}
}

func TestScheduleConfirmationError(t *testing.T) {
	tool := testutil.NewMockTool("broken", "")
	tool.ConfirmFn = func(ctx context.Context, args map[string]any) (*tools.ConfirmationDetails, error) {
		return nil, tools.NewToolError(tools.ErrFileNotFound, "no such file")
	}
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "broken", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, batch.Calls[0].Status)
	assert.Equal(t, tools.ErrFileNotFound, batch.Calls[0].Response.ErrorType)
}

func TestScheduleConcurrentExecution(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	mk := func(name string) *testutil.MockTool {
		return testutil.NewMockToolWithSchema(name, "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
			started.Done()
			select {
			case <-release:
				return tools.Result{LLMContent: name}, nil
			case <-time.After(2 * time.Second):
				return tools.Result{}, errors.New("calls did not overlap")
			}
		})
	}
	s := NewScheduler(newRegistry(t, mk("a"), mk("b")), SchedulerOptions{})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "a", nil), req("2", "b", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, batch.Calls[0].Status)
	assert.Equal(t, StatusSuccess, batch.Calls[1].Status)
}

func TestScheduleExclusiveCallsRunInOrder(t *testing.T) {
	var running, maxRunning atomic.Int32
	var mu sync.Mutex
	var order []string

	tool := testutil.NewMockToolWithSchema("write", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		order = append(order, args["id"].(string))
		mu.Unlock()
		return tools.Result{LLMContent: "ok"}, nil
	})
	tool.KeyFn = func(args map[string]any) string { return "same-file" }
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})

	var reqs []ToolCallRequestInfo
	for _, id := range []string{"a", "b", "c"} {
		reqs = append(reqs, req(id, "write", map[string]any{"id": id}))
	}
	_, err := s.Schedule(context.Background(), reqs, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestScheduleMaxConcurrency(t *testing.T) {
	var running, maxRunning atomic.Int32
	tool := testutil.NewMockToolWithSchema("t", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return tools.Result{}, nil
	})
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{MaxConcurrency: 2})

	var reqs []ToolCallRequestInfo
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		reqs = append(reqs, req(id, "t", nil))
	}
	_, err := s.Schedule(context.Background(), reqs, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
	assert.Equal(t, 5, tool.InvocationCount())
}

func TestScheduleToolFailures(t *testing.T) {
	panicky := testutil.NewMockToolWithSchema("panicky", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		panic("kaboom")
	})
	missing := testutil.NewMockToolWithSchema("missing", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		return tools.Result{}, tools.NewToolErrorf(tools.ErrFileNotFound, "file not found: %s", args["path"])
	})
	plain := testutil.NewMockToolWithSchema("plain", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		return tools.Result{}, errors.New("exit status 1")
	})
	s := NewScheduler(newRegistry(t, panicky, missing, plain), SchedulerOptions{})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{
		req("1", "panicky", nil),
		req("2", "missing", map[string]any{"path": "x.go"}),
		req("3", "plain", nil),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusError, batch.Calls[0].Status)
	assert.Equal(t, tools.ErrExecutionFailed, batch.Calls[0].Response.ErrorType)
	assert.Contains(t, responseValue(t, batch.Calls[0], "error"), "panicked: kaboom")

	assert.Equal(t, tools.ErrFileNotFound, batch.Calls[1].Response.ErrorType)
	assert.Equal(t, "file not found: x.go", responseValue(t, batch.Calls[1], "error"))

	assert.Equal(t, tools.ErrExecutionFailed, batch.Calls[2].Response.ErrorType)
	assert.Equal(t, "exit status 1", responseValue(t, batch.Calls[2], "error"))
}

func TestScheduleExecuteTimeout(t *testing.T) {
	hang := testutil.NewMockToolWithSchema("hang", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	})
	s := NewScheduler(newRegistry(t, hang), SchedulerOptions{ExecuteTimeout: 20 * time.Millisecond})

	batch, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "hang", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, batch.Calls[0].Status)
	assert.Equal(t, tools.ErrTimeout, batch.Calls[0].Response.ErrorType)
	assert.Contains(t, responseValue(t, batch.Calls[0], "error"), "timed out")
}

func TestScheduleCancelledDuringExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tool := testutil.NewMockToolWithSchema("slow", "", nil, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		cancel()
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	})
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})

	batch, err := s.Schedule(ctx, []ToolCallRequestInfo{req("1", "slow", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, batch.Calls[0].Status)
	assert.Equal(t, cancelledByAbort, responseValue(t, batch.Calls[0], "error"))
}

func TestScheduleWaitsForToolIgnoringCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var finished atomic.Bool
	tool := testutil.NewMockToolWithSchema("stubborn", "", nil, func(context.Context, map[string]any) (tools.Result, error) {
		cancel()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return tools.Result{LLMContent: "wrote file"}, nil
	})
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})

	batch, err := s.Schedule(ctx, []ToolCallRequestInfo{req("1", "stubborn", nil)}, nil)
	require.NoError(t, err)
	assert.True(t, finished.Load())
	// the side effect happened, so the model hears about it
	assert.Equal(t, StatusSuccess, batch.Calls[0].Status)
	assert.Equal(t, "wrote file", responseValue(t, batch.Calls[0], "output"))
}

func TestScheduleAbandonsToolAfterGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	release := make(chan struct{})
	defer close(release)
	tool := testutil.NewMockToolWithSchema("stuck", "", nil, func(context.Context, map[string]any) (tools.Result, error) {
		cancel()
		<-release
		return tools.Result{}, nil
	})
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})
	s.cancelGrace = 10 * time.Millisecond

	batch, err := s.Schedule(ctx, []ToolCallRequestInfo{req("1", "stuck", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, batch.Calls[0].Status)
	assert.Equal(t, cancelledByAbort, responseValue(t, batch.Calls[0], "error"))
}

func TestScheduleRejectsMisuse(t *testing.T) {
	_, err := NewScheduler(nil, SchedulerOptions{}).Schedule(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)

	var nilScheduler *Scheduler
	_, err = nilScheduler.Schedule(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrRegistryUnavailable)

	tool := testutil.NewMockTool("t", "")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{})
	_, err = s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "t", nil), req("1", "t", nil)}, nil)
	assert.ErrorIs(t, err, ErrDuplicateCallID)

	var nested error
	tool.ExecuteFn = func(ctx context.Context, args map[string]any) (tools.Result, error) {
		_, nested = s.Schedule(ctx, []ToolCallRequestInfo{req("2", "t", nil)}, nil)
		return tools.Result{}, nil
	}
	_, err = s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "t", nil)}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, nested, ErrSchedulerBusy)

	assert.ErrorIs(t, s.Confirm("nope", tools.ProceedOnce), ErrNoPendingConfirmation)
}

func TestScheduleOnUpdate(t *testing.T) {
	var mu sync.Mutex
	var snapshots [][]ToolCall
	tool := testutil.NewMockTool("t", "ok")
	s := NewScheduler(newRegistry(t, tool), SchedulerOptions{OnUpdate: func(calls []ToolCall) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, calls)
	}})

	_, err := s.Schedule(context.Background(), []ToolCallRequestInfo{req("1", "t", nil)}, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	var statuses []ToolCallStatus
	for _, snap := range snapshots {
		require.Len(t, snap, 1)
		statuses = append(statuses, snap[0].Status)
	}
	assert.Equal(t, []ToolCallStatus{StatusReceived, StatusValidating, StatusScheduled, StatusExecuting, StatusSuccess}, statuses)
}
