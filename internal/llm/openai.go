package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIGenerator implements ContentGenerator with the Chat Completions API.
// It also serves OpenAI-compatible servers through a custom base URL.
type OpenAIGenerator struct {
	client         openai.Client
	model          string
	embeddingModel string
	baseURL        string
}

// OpenAIOptions configures an OpenAIGenerator.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// RetryGenerator owns retries
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIGenerator{
		client:         openai.NewClient(clientOpts...),
		model:          chooseModel(opts.Model, DefaultFlashModel),
		embeddingModel: chooseModel(opts.EmbeddingModel, DefaultEmbeddingModel),
		baseURL:        opts.BaseURL,
	}
}

func (g *OpenAIGenerator) Name() string {
	if g.baseURL != "" {
		return fmt.Sprintf("OpenAI-compatible (%s, %s)", g.model, g.baseURL)
	}
	return fmt.Sprintf("OpenAI (%s)", g.model)
}

func (g *OpenAIGenerator) GenerateContent(ctx context.Context, req GenerateRequest, promptID string) (*Response, error) {
	params := g.buildParams(req)
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	resp := &Response{Content: Content{Role: RoleModel}}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		if choice.Message.Content != "" {
			resp.Content.Parts = append(resp.Content.Parts, NewTextPart(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			resp.Content.Parts = append(resp.Content.Parts, NewFunctionCallPart(FunctionCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: parseArgs(tc.Function.Arguments),
			}))
		}
		resp.FinishReason = mapOpenAIFinishReason(choice.FinishReason)
	}
	resp.Usage = &Usage{
		InputTokens:       int(completion.Usage.PromptTokens),
		OutputTokens:      int(completion.Usage.CompletionTokens),
		CachedInputTokens: int(completion.Usage.PromptTokensDetails.CachedTokens),
	}
	return resp, nil
}

func (g *OpenAIGenerator) GenerateContentStream(ctx context.Context, req GenerateRequest, promptID string) (Stream, error) {
	params := g.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	return newResponseStream(ctx, func(ctx context.Context, out chan<- *Response) error {
		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		calls := newIndexedCallAccumulator()
		var final *Response
		var usage *Usage

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &Usage{
					InputTokens:       int(chunk.Usage.PromptTokens),
					OutputTokens:      int(chunk.Usage.CompletionTokens),
					CachedInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			for _, tc := range choice.Delta.ToolCalls {
				calls.Append(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.Delta.Content != "" {
				if err := send(ctx, out, &Response{Content: ModelContent(NewTextPart(choice.Delta.Content))}); err != nil {
					return err
				}
			}
			if choice.FinishReason != "" {
				final = &Response{
					Content:      ModelContent(calls.Drain()...),
					FinishReason: mapOpenAIFinishReason(choice.FinishReason),
				}
			}
		}
		if err := stream.Err(); err != nil {
			return wrapOpenAIError(err)
		}
		if final == nil {
			// stream ended without a finish reason; flush any buffered calls
			parts := calls.Drain()
			if len(parts) == 0 && usage == nil {
				return nil
			}
			final = &Response{Content: ModelContent(parts...)}
		}
		final.Usage = usage
		return send(ctx, out, final)
	}), nil
}

// CountTokens estimates the count; Chat Completions has no counting endpoint.
func (g *OpenAIGenerator) CountTokens(ctx context.Context, req CountTokensRequest) (int, error) {
	return EstimateTokens(req.Contents), nil
}

func (g *OpenAIGenerator) EmbedContent(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	resp, err := g.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(chooseModel(req.Model, g.embeddingModel)),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Texts},
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (g *OpenAIGenerator) buildParams(req GenerateRequest) openai.ChatCompletionNewParams {
	cfg := req.Config
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(chooseModel(req.Model, g.model)),
		Messages:    buildOpenAIMessages(cfg.SystemInstruction, req.Contents),
		MaxTokens:   openai.Int(maxTokens(cfg.MaxOutputTokens, defaultMaxOutputTokens)),
		Temperature: openai.Float(temperatureOrDefault(cfg)),
		TopP:        openai.Float(topPOrDefault(cfg)),
	}
	if len(cfg.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: cfg.StopSequences}
	}
	if cfg.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*cfg.PresencePenalty)
	}
	if cfg.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*cfg.FrequencyPenalty)
	}
	if cfg.Seed != nil {
		params.Seed = openai.Int(int64(*cfg.Seed))
	}
	if cfg.ResponseSchema != nil || cfg.ResponseMIMEType == "application/json" {
		obj := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = buildOpenAITools(cfg.Tools)
	}
	return params
}

func buildOpenAITools(decls []FunctionDeclaration) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, decl := range decls {
		fn := shared.FunctionDefinitionParam{
			Name: decl.Name,
		}
		if decl.Description != "" {
			fn.Description = openai.String(decl.Description)
		}
		if len(decl.Parameters) > 0 {
			fn.Parameters = shared.FunctionParameters(decl.Parameters)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func buildOpenAIMessages(system string, contents []Content) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(contents)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, content := range contents {
		switch content.Role {
		case RoleSystem:
			if text := strings.TrimSpace(content.Text()); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case RoleModel:
			text := strings.TrimSpace(content.Text())
			var toolCalls []openai.ChatCompletionMessageToolCallParam
			for _, call := range content.FunctionCalls() {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: marshalArgs(call.Args),
					},
				})
			}
			if len(toolCalls) == 0 {
				if text != "" {
					out = append(out, openai.AssistantMessage(text))
				}
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			// tool messages must directly follow the assistant message that requested them
			var texts []string
			for _, part := range content.Parts {
				switch part.Type {
				case PartFunctionResponse:
					out = append(out, openai.ToolMessage(marshalArgs(part.FunctionResponse.Response), part.FunctionResponse.ID))
				case PartText:
					if part.Text != "" {
						texts = append(texts, part.Text)
					}
				case PartFile:
					texts = append(texts, fmt.Sprintf("[file %s %s]", part.File.MIMEType, part.File.URI))
				}
			}
			if len(texts) > 0 {
				out = append(out, openai.UserMessage(strings.Join(texts, "\n")))
			}
		}
	}
	return out
}

func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "":
		return ""
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	case "tool_calls", "function_call":
		return FinishFunctionCall
	default:
		return FinishOther
	}
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		wrapped := &APIError{
			Provider: "openai",
			Status:   apiErr.StatusCode,
			Message:  apiErr.Message,
			Err:      err,
		}
		if wrapped.Message == "" {
			wrapped.Message = err.Error()
		}
		if apiErr.Response != nil {
			wrapped.RetryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		return wrapped
	}
	return err
}

// indexedCallAccumulator assembles streamed tool call deltas keyed by index.
type indexedCallAccumulator struct {
	calls map[int64]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newIndexedCallAccumulator() *indexedCallAccumulator {
	return &indexedCallAccumulator{calls: make(map[int64]*partialCall)}
}

func (a *indexedCallAccumulator) Append(index int64, id, name, args string) {
	call := a.calls[index]
	if call == nil {
		call = &partialCall{}
		a.calls[index] = call
	}
	if id != "" {
		call.id = id
	}
	if name != "" {
		call.name = name
	}
	call.args.WriteString(args)
}

// Drain returns the accumulated calls in index order and resets the accumulator.
func (a *indexedCallAccumulator) Drain() []Part {
	indexes := make([]int64, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	parts := make([]Part, 0, len(indexes))
	for _, idx := range indexes {
		call := a.calls[idx]
		parts = append(parts, NewFunctionCallPart(FunctionCall{
			ID:   call.id,
			Name: call.name,
			Args: parseArgs(call.args.String()),
		}))
	}
	a.calls = make(map[int64]*partialCall)
	return parts
}

func parseArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	return map[string]any{"_raw": raw}
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
