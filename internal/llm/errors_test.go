package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestToFriendlyError(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{400, func(t *testing.T, err error) {
			var target *BadRequestError
			if !errors.As(err, &target) {
				t.Errorf("expected *BadRequestError, got %T", err)
			}
		}},
		{401, func(t *testing.T, err error) {
			if !IsUnauthorized(err) {
				t.Errorf("expected unauthorized, got %T", err)
			}
		}},
		{403, func(t *testing.T, err error) {
			var target *ForbiddenError
			if !errors.As(err, &target) {
				t.Errorf("expected *ForbiddenError, got %T", err)
			}
		}},
		{500, func(t *testing.T, err error) {
			var target *APIError
			if !errors.As(err, &target) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if IsUnauthorized(err) {
				t.Error("500 must not count as unauthorized")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			src := fmt.Errorf("stream: %w", &APIError{Provider: "openai", Status: tt.status, Message: "boom"})
			err := ToFriendlyError(src)
			tt.check(t, err)
			if msg := ErrorMessage(err); msg != "boom" {
				t.Errorf("ErrorMessage = %q, want boom", msg)
			}
			status, ok := ErrorStatus(err)
			if !ok || status != tt.status {
				t.Errorf("ErrorStatus = %d, %v; want %d, true", status, ok, tt.status)
			}
		})
	}
}

func TestToFriendlyErrorPassthrough(t *testing.T) {
	if err := ToFriendlyError(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	plain := errors.New("network down")
	if got := ToFriendlyError(plain); got != plain {
		t.Errorf("expected plain errors to pass through unchanged, got %v", got)
	}
	if _, ok := ErrorStatus(plain); ok {
		t.Error("expected no status for a plain error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
		{"429", &APIError{Status: 429}, true},
		{"503", &APIError{Status: 503}, true},
		{"400", &APIError{Status: 400}, false},
		{"401", &APIError{Status: 401}, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"overloaded text", errors.New("server overloaded"), true},
		{"other", errors.New("invalid json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
