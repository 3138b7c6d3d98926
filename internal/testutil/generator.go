package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/samsaffron/noma/internal/llm"
)

// ErrNoScriptedTurn is returned when the generator runs out of turns.
var ErrNoScriptedTurn = errors.New("testutil: no scripted turn left")

// ScriptedTurn is the response to one GenerateContentStream call.
type ScriptedTurn struct {
	Fragments []*llm.Response
	// StartErr is returned by GenerateContentStream itself.
	StartErr error
	// Err is returned by Recv after the fragments.
	Err error
	// BeforeRecv runs before fragment i is handed out, e.g. to cancel a context.
	BeforeRecv func(i int)
}

// Generator is a llm.ContentGenerator that replays scripted turns in order
// and records every request.
type Generator struct {
	mu        sync.Mutex
	turns     []ScriptedTurn
	Requests  []llm.GenerateRequest
	PromptIDs []string
}

// NewGenerator creates an empty scripted generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// AddTurn appends a turn that streams the given fragments.
func (g *Generator) AddTurn(fragments ...*llm.Response) *Generator {
	return g.AddScriptedTurn(ScriptedTurn{Fragments: fragments})
}

// AddScriptedTurn appends an arbitrary turn.
func (g *Generator) AddScriptedTurn(turn ScriptedTurn) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.turns = append(g.turns, turn)
	return g
}

// AddTextResponse appends a turn answering with text and a stop reason.
func (g *Generator) AddTextResponse(text string) *Generator {
	return g.AddTurn(TextFragment(text), FinishFragment(llm.FinishStop))
}

// AddToolCall appends a turn requesting one tool call.
func (g *Generator) AddToolCall(id, name string, args map[string]any) *Generator {
	return g.AddTurn(ToolCallFragment(id, name, args), FinishFragment(llm.FinishFunctionCall))
}

// AddError appends a turn whose stream cannot be opened.
func (g *Generator) AddError(err error) *Generator {
	return g.AddScriptedTurn(ScriptedTurn{StartErr: err})
}

// Remaining reports how many scripted turns are unused.
func (g *Generator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.turns)
}

// RequestCount returns the number of stream requests received.
func (g *Generator) RequestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// LastRequest returns the most recent request.
func (g *Generator) LastRequest() llm.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return llm.GenerateRequest{}
	}
	return g.Requests[len(g.Requests)-1]
}

func (g *Generator) Name() string { return "scripted" }

func (g *Generator) GenerateContentStream(ctx context.Context, req llm.GenerateRequest, promptID string) (llm.Stream, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	g.PromptIDs = append(g.PromptIDs, promptID)
	if len(g.turns) == 0 {
		g.mu.Unlock()
		return nil, ErrNoScriptedTurn
	}
	turn := g.turns[0]
	g.turns = g.turns[1:]
	g.mu.Unlock()

	if turn.StartErr != nil {
		return nil, turn.StartErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &scriptedStream{ctx: ctx, turn: turn}, nil
}

func (g *Generator) GenerateContent(ctx context.Context, req llm.GenerateRequest, promptID string) (*llm.Response, error) {
	stream, err := g.GenerateContentStream(ctx, req, promptID)
	if err != nil {
		return nil, err
	}
	return llm.CollectStream(stream)
}

func (g *Generator) CountTokens(_ context.Context, req llm.CountTokensRequest) (int, error) {
	return llm.EstimateTokens(req.Contents), nil
}

func (g *Generator) EmbedContent(_ context.Context, req llm.EmbedRequest) ([][]float32, error) {
	return nil, fmt.Errorf("scripted generator: embed %d texts: %w", len(req.Texts), llm.ErrUnsupported)
}

type scriptedStream struct {
	ctx    context.Context
	turn   ScriptedTurn
	index  int
	closed bool
}

func (s *scriptedStream) Recv() (*llm.Response, error) {
	if s.closed {
		return nil, io.EOF
	}
	if s.index < len(s.turn.Fragments) {
		if s.turn.BeforeRecv != nil {
			s.turn.BeforeRecv(s.index)
		}
		resp := s.turn.Fragments[s.index]
		s.index++
		return resp, nil
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.turn.Err != nil {
		return nil, s.turn.Err
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// TextFragment is a model fragment carrying text.
func TextFragment(text string) *llm.Response {
	return &llm.Response{Content: llm.ModelContent(llm.NewTextPart(text))}
}

// ThoughtFragment is a model fragment carrying a thought.
func ThoughtFragment(text string) *llm.Response {
	return &llm.Response{Content: llm.ModelContent(llm.NewThoughtPart(text))}
}

// ToolCallFragment is a model fragment requesting one tool call.
func ToolCallFragment(id, name string, args map[string]any) *llm.Response {
	return &llm.Response{Content: llm.ModelContent(llm.NewFunctionCallPart(llm.FunctionCall{ID: id, Name: name, Args: args}))}
}

// FinishFragment is an empty fragment carrying a finish reason.
func FinishFragment(reason llm.FinishReason) *llm.Response {
	return &llm.Response{Content: llm.ModelContent(), FinishReason: reason}
}
