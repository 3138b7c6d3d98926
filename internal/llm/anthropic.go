package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicGenerator implements ContentGenerator with the Anthropic Messages API.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
}

// AnthropicOptions configures an AnthropicGenerator.
type AnthropicOptions struct {
	APIKey  string
	BaseURL string
	Model   string
}

func NewAnthropicGenerator(opts AnthropicOptions) *AnthropicGenerator {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicGenerator{
		client: anthropic.NewClient(clientOpts...),
		model:  chooseModel(opts.Model, defaultAnthropicModel),
	}
}

func (g *AnthropicGenerator) Name() string {
	return fmt.Sprintf("Anthropic (%s)", g.model)
}

func (g *AnthropicGenerator) GenerateContent(ctx context.Context, req GenerateRequest, promptID string) (*Response, error) {
	stream, err := g.GenerateContentStream(ctx, req, promptID)
	if err != nil {
		return nil, err
	}
	return CollectStream(stream)
}

func (g *AnthropicGenerator) GenerateContentStream(ctx context.Context, req GenerateRequest, promptID string) (Stream, error) {
	params := g.buildParams(req)
	if len(params.Messages) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	return newResponseStream(ctx, func(ctx context.Context, out chan<- *Response) error {
		accumulator := newToolCallAccumulator()
		usage := &Usage{}
		var finish FinishReason

		stream := g.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(variant.Message.Usage.InputTokens)
				usage.CachedInputTokens = int(variant.Message.Usage.CacheReadInputTokens)
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					accumulator.Start(variant.Index, block.ID, block.Name, block.Input)
				}
			case anthropic.ContentBlockDeltaEvent:
				var part *Part
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.InputJSONDelta:
					accumulator.Append(variant.Index, delta.PartialJSON)
				case anthropic.TextDelta:
					if delta.Text != "" {
						p := NewTextPart(delta.Text)
						part = &p
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						p := NewThoughtPart(delta.Thinking)
						part = &p
					}
				}
				if part != nil {
					if err := send(ctx, out, &Response{Content: ModelContent(*part)}); err != nil {
						return err
					}
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := accumulator.Finish(variant.Index); ok {
					if err := send(ctx, out, &Response{Content: ModelContent(NewFunctionCallPart(call))}); err != nil {
						return err
					}
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(variant.Usage.OutputTokens)
				}
				if variant.Delta.StopReason != "" {
					finish = mapAnthropicStopReason(variant.Delta.StopReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return wrapAnthropicError(err)
		}
		return send(ctx, out, &Response{Content: ModelContent(), FinishReason: finish, Usage: usage})
	}), nil
}

func (g *AnthropicGenerator) CountTokens(ctx context.Context, req CountTokensRequest) (int, error) {
	system, messages := buildAnthropicMessages("", req.Contents)
	if len(messages) == 0 {
		return 0, nil
	}
	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(chooseModel(req.Model, g.model)),
		Messages: messages,
	}
	if system != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{OfString: anthropic.String(system)}
	}
	resp, err := g.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, wrapAnthropicError(err)
	}
	return int(resp.InputTokens), nil
}

// EmbedContent is not offered by the Messages API.
func (g *AnthropicGenerator) EmbedContent(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic embeddings: %w", ErrUnsupported)
}

func (g *AnthropicGenerator) buildParams(req GenerateRequest) anthropic.MessageNewParams {
	cfg := req.Config
	system, messages := buildAnthropicMessages(cfg.SystemInstruction, req.Contents)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(chooseModel(req.Model, g.model)),
		MaxTokens:   maxTokens(cfg.MaxOutputTokens, defaultMaxOutputTokens),
		Messages:    messages,
		Temperature: anthropic.Float(temperatureOrDefault(cfg)),
	}
	// top_p is only sent when set explicitly
	if cfg.TopP != nil {
		params.TopP = anthropic.Float(*cfg.TopP)
	}
	if cfg.TopK != nil {
		params.TopK = anthropic.Int(int64(*cfg.TopK))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(cfg.StopSequences) > 0 {
		params.StopSequences = cfg.StopSequences
	}
	if len(cfg.Tools) > 0 {
		params.Tools = buildAnthropicTools(cfg.Tools)
	}
	return params
}

// buildAnthropicMessages folds system contents into the system prompt and
// maps the remaining history onto alternating user/assistant messages.
func buildAnthropicMessages(system string, contents []Content) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}
	var out []anthropic.MessageParam
	for _, content := range contents {
		if content.Role == RoleSystem {
			if text := content.Text(); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		}
		blocks := buildAnthropicBlocks(content.Parts, content.Role == RoleModel)
		if len(blocks) == 0 {
			continue
		}
		if content.Role == RoleModel {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartFunctionCall:
			if allowToolUse && part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, args, part.FunctionCall.Name))
			}
		case PartFunctionResponse:
			if part.FunctionResponse != nil {
				_, isError := part.FunctionResponse.Response["error"]
				blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, marshalArgs(part.FunctionResponse.Response), isError))
			}
		case PartFile:
			if part.File != nil && part.File.URI != "" {
				blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[file %s %s]", part.File.MIMEType, part.File.URI)))
			}
		}
	}
	return blocks
}

func buildAnthropicTools(decls []FunctionDeclaration) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, decl := range decls {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: decl.Parameters["properties"],
			Required:   schemaRequired(decl.Parameters),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, decl.Name)
		if decl.Description != "" {
			tool.OfTool.Description = anthropic.String(decl.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func mapAnthropicStopReason(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return FinishStop
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	case anthropic.StopReasonToolUse:
		return FinishFunctionCall
	case anthropic.StopReasonRefusal:
		return FinishContentFilter
	default:
		return FinishOther
	}
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped := &APIError{Provider: "anthropic", Status: apiErr.StatusCode, Message: err.Error(), Err: err}
		if apiErr.Response != nil {
			wrapped.RetryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		return wrapped
	}
	return err
}

// toolCallAccumulator assembles tool_use blocks whose input arrives as
// partial JSON deltas between block start and stop.
type toolCallAccumulator struct {
	calls    map[int64]FunctionCall
	fallback map[int64]map[string]any
	partial  map[int64]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:    make(map[int64]FunctionCall),
		fallback: make(map[int64]map[string]any),
		partial:  make(map[int64]*strings.Builder),
	}
}

func (a *toolCallAccumulator) Start(index int64, id, name string, input any) {
	if args := inputToArgs(input); len(args) > 0 {
		a.fallback[index] = args
	}
	a.calls[index] = FunctionCall{ID: id, Name: name}
}

func (a *toolCallAccumulator) Append(index int64, partial string) {
	if partial == "" {
		return
	}
	builder := a.partial[index]
	if builder == nil {
		builder = &strings.Builder{}
		a.partial[index] = builder
	}
	builder.WriteString(partial)
}

func (a *toolCallAccumulator) Finish(index int64) (FunctionCall, bool) {
	call, ok := a.calls[index]
	if !ok {
		return FunctionCall{}, false
	}
	if builder := a.partial[index]; builder != nil && builder.Len() > 0 {
		call.Args = parseArgs(builder.String())
	} else if fallback, ok := a.fallback[index]; ok {
		call.Args = fallback
	}
	delete(a.calls, index)
	delete(a.partial, index)
	delete(a.fallback, index)
	return call, true
}

func inputToArgs(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case json.RawMessage:
		return parseArgs(string(v))
	case []byte:
		return parseArgs(string(v))
	case string:
		return parseArgs(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return parseArgs(string(data))
	}
}
