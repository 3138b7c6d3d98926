package tools

import (
	"strings"
	"testing"
)

func TestWarnUnknownParams(t *testing.T) {
	if got := WarnUnknownParams(map[string]any{"pattern": "*.go"}, []string{"pattern", "path"}); got != "" {
		t.Errorf("expected no warning for known params, got %q", got)
	}

	got := WarnUnknownParams(map[string]any{"pattern": "*.go", "zeta": 1, "alpha": true}, []string{"pattern"})
	want := "Unknown parameter 'alpha' was ignored\nUnknown parameter 'zeta' was ignored\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		wantErr bool
	}{
		{"absent", nil, 0, false},
		{"float64 from json", float64(12), 12, false},
		{"int", 7, 7, false},
		{"fraction", 1.5, 0, true},
		{"string", "3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{}
			if tt.value != nil {
				args["n"] = tt.value
			}
			got, err := intArg(args, "n")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %v", tt.value)
				}
				if et := ErrorTypeOf(err, ""); et != ErrInvalidParams {
					t.Errorf("expected %s, got %s", ErrInvalidParams, et)
				}
				return
			}
			if err != nil {
				t.Fatalf("intArg: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequiredString(t *testing.T) {
	_, err := requiredString(map[string]any{}, "file_path")
	if err == nil || err.Error() != "file_path is required" {
		t.Errorf("expected missing error, got %v", err)
	}

	_, err = requiredString(map[string]any{"file_path": 3}, "file_path")
	if err == nil || !strings.Contains(err.Error(), "must be a string") {
		t.Errorf("expected type error, got %v", err)
	}

	got, err := requiredString(map[string]any{"file_path": "a.txt"}, "file_path")
	if err != nil {
		t.Fatalf("requiredString: %v", err)
	}
	if got != "a.txt" {
		t.Errorf("got %q, want a.txt", got)
	}
}
