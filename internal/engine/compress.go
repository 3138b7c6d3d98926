package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samsaffron/noma/internal/llm"
)

// Compressor may shrink a chat's history before the next turn. It returns
// nil info when nothing changed.
type Compressor interface {
	Compress(ctx context.Context, chat *Chat, promptID string) (*ChatCompressionInfo, error)
}

const (
	defaultCompressThreshold  = 0.7
	defaultCompressKeepRecent = 4

	compressionSystemPrompt = `You summarise conversations between a user and a coding assistant.
Write a dense state snapshot the assistant can continue from: the overall goal,
key facts and decisions, files read or changed with the relevant details,
commands run and their outcomes, and the next steps. Omit pleasantries.`
	compressionRequest = "Summarise the conversation so far as described."
	compressionAck     = "Got it. Thanks for the additional context!"
)

// ErrEmptySummary is returned when the backend produced no summary text.
var ErrEmptySummary = errors.New("compress: empty summary")

// SummaryCompressor replaces older history with a model-written summary once
// the history passes Threshold of TokenLimit. The newest KeepRecent entries
// are kept verbatim.
type SummaryCompressor struct {
	TokenLimit int
	Threshold  float64
	KeepRecent int
	Logger     *slog.Logger
}

// NewSummaryCompressor returns nil when tokenLimit is 0.
func NewSummaryCompressor(tokenLimit int, threshold float64, keepRecent int, logger *slog.Logger) *SummaryCompressor {
	if tokenLimit <= 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = defaultCompressThreshold
	}
	if keepRecent <= 0 {
		keepRecent = defaultCompressKeepRecent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryCompressor{TokenLimit: tokenLimit, Threshold: threshold, KeepRecent: keepRecent, Logger: logger}
}

func (s *SummaryCompressor) Compress(ctx context.Context, chat *Chat, promptID string) (*ChatCompressionInfo, error) {
	history := chat.History(true)
	before := s.countTokens(ctx, chat, history)
	if float64(before) < s.Threshold*float64(s.TokenLimit) {
		return nil, nil
	}

	split := splitPoint(history, s.KeepRecent)
	if split <= 0 {
		return nil, nil
	}

	req := llm.GenerateRequest{
		Model:    chat.Model(),
		Contents: append(cloneContents(history[:split]), llm.UserText(compressionRequest)),
		Config:   llm.GenerateConfig{SystemInstruction: compressionSystemPrompt},
	}
	resp, err := chat.Generator().GenerateContent(ctx, req, promptID)
	if err != nil {
		return nil, fmt.Errorf("compress: summarise history: %w", err)
	}
	summary := resp.Text()
	if summary == "" {
		return nil, ErrEmptySummary
	}

	compressed := []llm.Content{
		llm.UserText(summary),
		llm.ModelContent(llm.NewTextPart(compressionAck)),
	}
	compressed = append(compressed, history[split:]...)
	after := s.countTokens(ctx, chat, compressed)
	if after >= before {
		s.Logger.Debug("compression skipped, summary not smaller", "prompt_id", promptID, "before", before, "after", after)
		return nil, nil
	}
	if err := chat.SetHistory(compressed); err != nil {
		return nil, err
	}
	s.Logger.Info("history compressed", "prompt_id", promptID, "before", before, "after", after)
	return &ChatCompressionInfo{OriginalTokenCount: before, NewTokenCount: after}, nil
}

// countTokens asks the backend and falls back to an estimate.
func (s *SummaryCompressor) countTokens(ctx context.Context, chat *Chat, contents []llm.Content) int {
	n, err := chat.Generator().CountTokens(ctx, llm.CountTokensRequest{Model: chat.Model(), Contents: contents})
	if err != nil || n <= 0 {
		return llm.EstimateTokens(contents)
	}
	return n
}

// splitPoint returns the index where the kept tail starts. The tail begins on
// a plain user message so a function call is never separated from its
// response.
func splitPoint(history []llm.Content, keep int) int {
	for i := len(history) - keep; i > 0; i-- {
		c := history[i]
		if c.Role == llm.RoleUser && !llm.IsFunctionResponse(c) {
			return i
		}
	}
	return 0
}
