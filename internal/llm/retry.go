package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// DefaultRetryConfig returns sensible defaults for rate limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryGenerator wraps a generator with automatic retry on transient errors.
// A stream is only retried while none of its fragments reached the caller.
type RetryGenerator struct {
	inner  ContentGenerator
	config RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WrapWithRetry wraps a generator with retry logic.
func WrapWithRetry(g ContentGenerator, config RetryConfig, logger *slog.Logger) *RetryGenerator {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryGenerator{inner: g, config: config, logger: logger, sleep: sleepContext}
}

func (r *RetryGenerator) Name() string {
	return r.inner.Name()
}

func (r *RetryGenerator) GenerateContent(ctx context.Context, req GenerateRequest, promptID string) (*Response, error) {
	var resp *Response
	err := r.do(ctx, "generate", func() error {
		var err error
		resp, err = r.inner.GenerateContent(ctx, req, promptID)
		return err
	})
	return resp, err
}

func (r *RetryGenerator) GenerateContentStream(ctx context.Context, req GenerateRequest, promptID string) (Stream, error) {
	return newResponseStream(ctx, func(ctx context.Context, out chan<- *Response) error {
		var lastErr error
		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.GenerateContentStream(ctx, req, promptID)
			delivered := false
			if err == nil {
				delivered, err = r.forward(ctx, stream, out)
				if err == nil {
					return nil
				}
			}
			if delivered || !IsRetryable(err) {
				return err
			}
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}
			wait := r.calculateBackoff(attempt, err)
			r.logger.Warn("retrying model stream", "prompt_id", promptID, "attempt", attempt, "wait", wait, "error", err)
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}
		return lastErr
	}), nil
}

func (r *RetryGenerator) CountTokens(ctx context.Context, req CountTokensRequest) (int, error) {
	var n int
	err := r.do(ctx, "count_tokens", func() error {
		var err error
		n, err = r.inner.CountTokens(ctx, req)
		return err
	})
	return n, err
}

func (r *RetryGenerator) EmbedContent(ctx context.Context, req EmbedRequest) ([][]float32, error) {
	var vectors [][]float32
	err := r.do(ctx, "embed", func() error {
		var err error
		vectors, err = r.inner.EmbedContent(ctx, req)
		return err
	})
	return vectors, err
}

func (r *RetryGenerator) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || errors.Is(err, ErrUnsupported) {
			return err
		}
		lastErr = err
		if attempt >= r.config.MaxAttempts {
			break
		}
		wait := r.calculateBackoff(attempt, err)
		r.logger.Warn("retrying model call", "op", op, "attempt", attempt, "wait", wait, "error", err)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// forward copies fragments from stream to out, reporting whether any got through.
func (r *RetryGenerator) forward(ctx context.Context, stream Stream, out chan<- *Response) (bool, error) {
	defer stream.Close()

	delivered := false
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return delivered, nil
		}
		if err != nil {
			return delivered, err
		}
		if err := send(ctx, out, resp); err != nil {
			return delivered, err
		}
		delivered = true
	}
}

func isRetryableMessage(msg string) bool {
	errStr := strings.ToLower(msg)

	// HTTP status codes and rate limit messages
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	// Connection errors
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host")
}

// retryAfterRegex matches Retry-After values in error messages.
var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// calculateBackoff computes the wait duration for a retry attempt.
func (r *RetryGenerator) calculateBackoff(attempt int, err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter != "" {
		if secs, parseErr := strconv.Atoi(strings.TrimSpace(apiErr.RetryAfter)); parseErr == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, r.config.MaxBackoff)
		}
	}

	if err != nil {
		if matches := retryAfterRegex.FindStringSubmatch(err.Error()); len(matches) > 1 {
			if secs, parseErr := strconv.Atoi(matches[1]); parseErr == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, r.config.MaxBackoff)
			}
		}
	}

	// Exponential backoff: base * 2^(attempt-1), +/- 25% jitter
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	backoff += (rand.Float64() - 0.5) * 0.5 * backoff

	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
