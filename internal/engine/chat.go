package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/samsaffron/noma/internal/llm"
)

// ErrChatBusy is returned when a send or history edit overlaps a send that
// is still in flight.
var ErrChatBusy = errors.New("chat: a message is already in flight")

// Chat owns the conversation history sent to the backend.
type Chat struct {
	generator llm.ContentGenerator
	model     string

	mu      sync.Mutex
	busy    bool
	config  llm.GenerateConfig
	history []llm.Content
}

// NewChat creates a chat over generator. cfg supplies the per-request
// defaults; its Tools and SystemInstruction can be changed later.
func NewChat(generator llm.ContentGenerator, model string, cfg llm.GenerateConfig, history []llm.Content) *Chat {
	return &Chat{
		generator: generator,
		model:     model,
		config:    cfg,
		history:   cloneContents(history),
	}
}

// Model returns the model requests are sent to.
func (c *Chat) Model() string {
	return c.model
}

// Generator returns the backend the chat sends to.
func (c *Chat) Generator() llm.ContentGenerator {
	return c.generator
}

// SetTools replaces the tool declarations sent with each request.
func (c *Chat) SetTools(decls []llm.FunctionDeclaration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Tools = append([]llm.FunctionDeclaration(nil), decls...)
}

// Tools returns the current tool declarations.
func (c *Chat) Tools() []llm.FunctionDeclaration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.FunctionDeclaration(nil), c.config.Tools...)
}

// SetSystemInstruction replaces the system instruction.
func (c *Chat) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.SystemInstruction = instruction
}

// History returns a copy of the history. Curated history leaves out model
// turns that are empty or invalid together with the input that produced them.
func (c *Chat) History(curated bool) []llm.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	if curated {
		return curatedHistory(c.history)
	}
	return cloneContents(c.history)
}

// AddHistory appends content between turns.
func (c *Chat) AddHistory(content llm.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrChatBusy
	}
	c.history = append(c.history, cloneContent(content))
	return nil
}

// SetHistory replaces the whole history.
func (c *Chat) SetHistory(history []llm.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrChatBusy
	}
	c.history = cloneContents(history)
	return nil
}

// ClearHistory drops the history.
func (c *Chat) ClearHistory() error {
	return c.SetHistory(nil)
}

// begin marks the chat busy and builds the request for userContent.
func (c *Chat) begin(userContent llm.Content) (llm.GenerateRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return llm.GenerateRequest{}, ErrChatBusy
	}
	c.busy = true
	return c.request(userContent), nil
}

// PreviewRequest returns the request that sending parts would make now.
func (c *Chat) PreviewRequest(parts []llm.Part) llm.GenerateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request(llm.UserContent(parts...))
}

func (c *Chat) request(userContent llm.Content) llm.GenerateRequest {
	contents := curatedHistory(c.history)
	contents = append(contents, userContent)
	cfg := c.config
	cfg.Tools = append([]llm.FunctionDeclaration(nil), c.config.Tools...)
	return llm.GenerateRequest{Model: c.model, Contents: contents, Config: cfg}
}

// finish releases the chat and, when ok, records the exchange.
func (c *Chat) finish(userContent llm.Content, fragments []*llm.Response, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if !ok {
		return
	}
	c.history = append(c.history, userContent, consolidate(fragments))
}

// SendMessage sends parts and waits for the whole response.
func (c *Chat) SendMessage(ctx context.Context, parts []llm.Part, promptID string) (*llm.Response, error) {
	userContent := llm.UserContent(parts...)
	req, err := c.begin(userContent)
	if err != nil {
		return nil, err
	}
	resp, err := c.generator.GenerateContent(ctx, req, promptID)
	if err != nil {
		c.finish(userContent, nil, false)
		return nil, err
	}
	c.finish(userContent, []*llm.Response{resp}, true)
	return resp, nil
}

// SendMessageStream sends parts and streams the response fragments. The
// exchange is recorded when the stream is read to io.EOF; on error or an
// early Close nothing is recorded.
func (c *Chat) SendMessageStream(ctx context.Context, parts []llm.Part, promptID string) (llm.Stream, error) {
	userContent := llm.UserContent(parts...)
	req, err := c.begin(userContent)
	if err != nil {
		return nil, err
	}
	inner, err := c.generator.GenerateContentStream(ctx, req, promptID)
	if err != nil {
		c.finish(userContent, nil, false)
		return nil, err
	}
	return &chatStream{chat: c, inner: inner, user: userContent}, nil
}

// chatStream records fragments as they pass through to the consumer.
type chatStream struct {
	chat      *Chat
	inner     llm.Stream
	user      llm.Content
	fragments []*llm.Response
	done      bool
}

func (s *chatStream) Recv() (*llm.Response, error) {
	if s.done {
		return nil, io.EOF
	}
	resp, err := s.inner.Recv()
	if errors.Is(err, io.EOF) {
		s.release(true)
		return nil, io.EOF
	}
	if err != nil {
		s.release(false)
		return nil, err
	}
	if resp != nil {
		s.fragments = append(s.fragments, resp)
	}
	return resp, nil
}

func (s *chatStream) Close() error {
	s.release(false)
	return s.inner.Close()
}

func (s *chatStream) release(ok bool) {
	if s.done {
		return
	}
	s.done = true
	s.chat.finish(s.user, s.fragments, ok)
}

// consolidate merges fragments into one model content. It keeps what the
// Turn reports: a fragment led by a thought is dropped whole, adjacent text is
// merged and nothing after the first finish reason counts.
func consolidate(fragments []*llm.Response) llm.Content {
	out := llm.Content{Role: llm.RoleModel}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			out.Parts = append(out.Parts, llm.NewTextPart(text.String()))
			text.Reset()
		}
	}
	for _, frag := range fragments {
		if parts := frag.Content.Parts; len(parts) > 0 && parts[0].Type == llm.PartThought {
			continue
		}
		for _, p := range frag.Content.Parts {
			switch p.Type {
			case llm.PartThought:
			case llm.PartText:
				text.WriteString(p.Text)
			default:
				flush()
				out.Parts = append(out.Parts, clonePart(p))
			}
		}
		if frag.FinishReason != "" {
			break
		}
	}
	flush()
	return out
}

// curatedHistory keeps only exchanges whose model output is valid.
func curatedHistory(history []llm.Content) []llm.Content {
	curated := make([]llm.Content, 0, len(history))
	for i := 0; i < len(history); {
		if history[i].Role != llm.RoleModel {
			curated = append(curated, cloneContent(history[i]))
			i++
			continue
		}
		var run []llm.Content
		valid := true
		for i < len(history) && history[i].Role == llm.RoleModel {
			if !validModelContent(history[i]) {
				valid = false
			}
			run = append(run, history[i])
			i++
		}
		if valid {
			for _, content := range run {
				curated = append(curated, cloneContent(content))
			}
		} else if len(curated) > 0 && curated[len(curated)-1].Role == llm.RoleUser {
			curated = curated[:len(curated)-1]
		}
	}
	return curated
}

func validModelContent(c llm.Content) bool {
	if len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		switch p.Type {
		case llm.PartText:
			if p.Text == "" {
				return false
			}
		case llm.PartFunctionCall:
			if p.FunctionCall == nil {
				return false
			}
		case llm.PartThought:
			return false
		}
	}
	return true
}

// MaybeIncludeSchemaDepthContext names the tools with cyclic or very deep
// parameter schemas when the backend rejected the request for that reason.
func (c *Chat) MaybeIncludeSchemaDepthContext(se *StructuredError) {
	if se == nil {
		return
	}
	depthError := strings.Contains(se.Message, "maximum schema depth exceeded")
	invalidArgument := se.Status != nil && *se.Status == 400 && strings.Contains(se.Message, "InvalidArgument")
	if !depthError && !invalidArgument {
		return
	}

	var offenders []string
	for _, decl := range c.Tools() {
		if schemaTooDeep(decl.Parameters) {
			offenders = append(offenders, decl.Name)
		}
	}
	if len(offenders) == 0 {
		return
	}
	se.Message += "\nThis error was probably caused by cyclic schema references in one of the following tools, try disabling them:\n\n - " +
		strings.Join(offenders, "\n - ")
}

// maxSchemaDepth matches the nesting backends accept for tool parameters.
const maxSchemaDepth = 16

// schemaTooDeep reports whether schema nests beyond maxSchemaDepth or
// contains a $ref cycle.
func schemaTooDeep(schema map[string]any) bool {
	defs := map[string]any{}
	for _, key := range []string{"$defs", "definitions"} {
		if d, ok := schema[key].(map[string]any); ok {
			for name, def := range d {
				defs["#/"+key+"/"+name] = def
			}
		}
	}
	defs["#"] = schema

	var walk func(node any, depth int, refs map[string]bool) bool
	walk = func(node any, depth int, refs map[string]bool) bool {
		if depth > maxSchemaDepth {
			return true
		}
		switch n := node.(type) {
		case map[string]any:
			if ref, ok := n["$ref"].(string); ok {
				if refs[ref] {
					return true
				}
				if target, ok := defs[ref]; ok {
					next := make(map[string]bool, len(refs)+1)
					for k := range refs {
						next[k] = true
					}
					next[ref] = true
					if walk(target, depth+1, next) {
						return true
					}
				}
			}
			for key, v := range n {
				if key == "$defs" || key == "definitions" {
					continue
				}
				if walk(v, depth+1, refs) {
					return true
				}
			}
		case []any:
			for _, v := range n {
				if walk(v, depth, refs) {
					return true
				}
			}
		}
		return false
	}
	return walk(schema, 0, map[string]bool{"#": true})
}

func cloneContents(in []llm.Content) []llm.Content {
	if in == nil {
		return nil
	}
	out := make([]llm.Content, len(in))
	for i, c := range in {
		out[i] = cloneContent(c)
	}
	return out
}

func cloneContent(c llm.Content) llm.Content {
	out := llm.Content{Role: c.Role, Parts: make([]llm.Part, len(c.Parts))}
	for i, p := range c.Parts {
		out.Parts[i] = clonePart(p)
	}
	return out
}

// clonePart copies the pointer payloads so later edits do not leak into
// history. Argument maps are shared; they are not modified once recorded.
func clonePart(p llm.Part) llm.Part {
	if p.FunctionCall != nil {
		fc := *p.FunctionCall
		p.FunctionCall = &fc
	}
	if p.FunctionResponse != nil {
		fr := *p.FunctionResponse
		p.FunctionResponse = &fr
	}
	if p.File != nil {
		f := *p.File
		p.File = &f
	}
	return p
}

