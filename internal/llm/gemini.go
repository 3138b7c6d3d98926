package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiGenerator implements ContentGenerator using the Google Gemini API.
type GeminiGenerator struct {
	apiKey         string
	model          string
	embeddingModel string
	newClient      func(ctx context.Context) (*genai.Client, error)
}

// GeminiOptions configures a GeminiGenerator.
type GeminiOptions struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

const (
	defaultGeminiModel          = "gemini-2.5-flash"
	defaultGeminiEmbeddingModel = "gemini-embedding-001"
)

func NewGeminiGenerator(opts GeminiOptions) *GeminiGenerator {
	g := &GeminiGenerator{
		apiKey:         opts.APIKey,
		model:          chooseModel(opts.Model, defaultGeminiModel),
		embeddingModel: chooseModel(opts.EmbeddingModel, defaultGeminiEmbeddingModel),
	}
	g.newClient = func(ctx context.Context) (*genai.Client, error) {
		return genai.NewClient(ctx, &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI})
	}
	return g
}

func (g *GeminiGenerator) Name() string {
	return fmt.Sprintf("Gemini (%s)", g.model)
}

func (g *GeminiGenerator) GenerateContent(ctx context.Context, req GenerateRequest, promptID string) (*Response, error) {
	client, err := g.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := chooseModel(req.Model, g.model)
	resp, err := client.Models.GenerateContent(ctx, model, buildGeminiContents(req.Contents), g.buildConfig(model, req.Config))
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	fragments := convertGeminiResponse(resp)
	merged := &Response{Content: Content{Role: RoleModel}}
	for _, f := range fragments {
		merged.Content.Parts = append(merged.Content.Parts, f.Content.Parts...)
		if f.FinishReason != "" {
			merged.FinishReason = f.FinishReason
		}
		if f.Usage != nil {
			merged.Usage = f.Usage
		}
	}
	return merged, nil
}

func (g *GeminiGenerator) GenerateContentStream(ctx context.Context, req GenerateRequest, promptID string) (Stream, error) {
	client, err := g.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := chooseModel(req.Model, g.model)
	contents := buildGeminiContents(req.Contents)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}
	config := g.buildConfig(model, req.Config)

	return newResponseStream(ctx, func(ctx context.Context, out chan<- *Response) error {
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				return wrapGeminiError(err)
			}
			for _, fragment := range convertGeminiResponse(resp) {
				if err := send(ctx, out, fragment); err != nil {
					return err
				}
			}
		}
		return nil
	}), nil
}

func (g *GeminiGenerator) CountTokens(ctx context.Context, req CountTokensRequest) (int, error) {
	client, err := g.newClient(ctx)
	if err != nil {
		return 0, fmt.Errorf("create gemini client: %w", err)
	}
	resp, err := client.Models.CountTokens(ctx, chooseModel(req.Model, g.model), buildGeminiContents(req.Contents), nil)
	if err != nil {
		return 0, wrapGeminiError(err)
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiGenerator) EmbedContent(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	client, err := g.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	contents := make([]*genai.Content, 0, len(req.Texts))
	for _, text := range req.Texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	resp, err := client.Models.EmbedContent(ctx, chooseModel(req.Model, g.embeddingModel), contents, nil)
	if err != nil {
		return nil, wrapGeminiError(err)
	}
	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}

func (g *GeminiGenerator) buildConfig(model string, cfg GenerateConfig) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperatureOrDefault(cfg))),
		TopP:            genai.Ptr(float32(topPOrDefault(cfg))),
		MaxOutputTokens: int32(maxTokens(cfg.MaxOutputTokens, defaultMaxOutputTokens)),
		StopSequences:   cfg.StopSequences,
	}
	if cfg.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.TopK != nil {
		config.TopK = genai.Ptr(float32(*cfg.TopK))
	}
	if cfg.PresencePenalty != nil {
		config.PresencePenalty = genai.Ptr(float32(*cfg.PresencePenalty))
	}
	if cfg.FrequencyPenalty != nil {
		config.FrequencyPenalty = genai.Ptr(float32(*cfg.FrequencyPenalty))
	}
	if cfg.Seed != nil {
		config.Seed = genai.Ptr(int32(*cfg.Seed))
	}
	if cfg.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schemaToGenai(cfg.ResponseSchema)
	} else if cfg.ResponseMIMEType != "" {
		config.ResponseMIMEType = cfg.ResponseMIMEType
	}
	if len(cfg.Tools) > 0 {
		config.Tools = buildGeminiTools(cfg.Tools)
	}
	if geminiSupportsThoughts(model) {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return config
}

func geminiSupportsThoughts(model string) bool {
	return strings.HasPrefix(model, "gemini-2.5") || strings.HasPrefix(model, "gemini-3")
}

// convertGeminiResponse splits one API chunk into fragments so that thought
// parts never share a fragment with answer text or function calls.
func convertGeminiResponse(resp *genai.GenerateContentResponse) []*Response {
	if resp == nil {
		return nil
	}
	var thoughts, rest []Part
	var finish FinishReason
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				switch {
				case part.Thought && part.Text != "":
					thoughts = append(thoughts, NewThoughtPart(part.Text))
				case part.FunctionCall != nil:
					rest = append(rest, NewFunctionCallPart(FunctionCall{
						ID:   part.FunctionCall.ID,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					}))
				case part.Text != "":
					rest = append(rest, NewTextPart(part.Text))
				case part.InlineData != nil:
					rest = append(rest, NewFilePart(FileData{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data}))
				case part.FileData != nil:
					rest = append(rest, NewFilePart(FileData{MIMEType: part.FileData.MIMEType, URI: part.FileData.FileURI}))
				}
			}
		}
		finish = mapGeminiFinishReason(cand.FinishReason)
	}

	var usage *Usage
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		usage = &Usage{
			InputTokens:       int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens:      int(resp.UsageMetadata.CandidatesTokenCount),
			CachedInputTokens: int(resp.UsageMetadata.CachedContentTokenCount),
			ThoughtTokens:     int(resp.UsageMetadata.ThoughtsTokenCount),
		}
	}

	var fragments []*Response
	if len(thoughts) > 0 {
		fragments = append(fragments, &Response{Content: ModelContent(thoughts...)})
	}
	if len(rest) > 0 || finish != "" || usage != nil {
		fragments = append(fragments, &Response{Content: ModelContent(rest...), FinishReason: finish, Usage: usage})
	}
	return fragments
}

func mapGeminiFinishReason(reason genai.FinishReason) FinishReason {
	switch reason {
	case "", genai.FinishReasonUnspecified:
		return ""
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSPII, genai.FinishReasonRecitation:
		return FinishContentFilter
	default:
		return FinishOther
	}
}

func buildGeminiTools(decls []FunctionDeclaration) []*genai.Tool {
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  schemaToGenai(decl.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func buildGeminiContents(contents []Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, content := range contents {
		role := genai.RoleUser
		if content.Role == RoleModel {
			role = genai.RoleModel
		}
		gc := &genai.Content{Role: role}
		for _, part := range content.Parts {
			switch part.Type {
			case PartText:
				if part.Text != "" {
					gc.Parts = append(gc.Parts, &genai.Part{Text: part.Text})
				}
			case PartThought:
				// thoughts are never replayed to the model
			case PartFunctionCall:
				gc.Parts = append(gc.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   part.FunctionCall.ID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}})
			case PartFunctionResponse:
				gc.Parts = append(gc.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       part.FunctionResponse.ID,
					Name:     part.FunctionResponse.Name,
					Response: part.FunctionResponse.Response,
				}})
			case PartFile:
				if len(part.File.Data) > 0 {
					gc.Parts = append(gc.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: part.File.MIMEType, Data: part.File.Data}})
				} else if part.File.URI != "" {
					gc.Parts = append(gc.Parts, &genai.Part{FileData: &genai.FileData{MIMEType: part.File.MIMEType, FileURI: part.File.URI}})
				}
			}
		}
		if len(gc.Parts) > 0 {
			out = append(out, gc)
		}
	}
	return out
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", Status: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Provider: "gemini", Status: apiErrPtr.Code, Message: apiErrPtr.Message, Err: err}
	}
	return err
}
