package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/supercoder/internal/domain"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     string
		wantErr  bool
	}{
		{
			name: "code between delimiters",
			raw:  "Here is the program:\n@@D\nprint('hi')\n@@D\nLet me know!",
			want: "print('hi')",
		},
		{
			name: "single line",
			raw:  "pre@@D CODE @@D post",
			want: "CODE",
		},
		{
			name: "delimiters with no surrounding text",
			raw:  "@@D\ndef f():\n    return 1\n@@D",
			want: "def f():\n    return 1",
		},
		{
			name: "extra delimiters keep first segment",
			raw:  "@@D\nfirst\n@@D\nmiddle\n@@D\nlast\n@@D",
			want: "first",
		},
		{
			name: "inner whitespace preserved",
			raw:  "@@D\n  indented = True\n@@D",
			want: "indented = True",
		},
		{
			name:    "no delimiter",
			raw:     "print('hi')",
			wantErr: true,
		},
		{
			name:    "single delimiter",
			raw:     "some text @@D print('hi')",
			wantErr: true,
		},
		{
			name:    "empty response",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got code %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractFailureIsRetryable(t *testing.T) {
	_, err := Extract("no delimiters here")

	var cerr *domain.ClassifiedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected classified error, got %T", err)
	}
	if cerr.Class != domain.FailureExtraction {
		t.Errorf("class = %v, want %v", cerr.Class, domain.FailureExtraction)
	}
	if cerr.Fatal {
		t.Error("extraction failure must be retryable")
	}
}

func TestExtractDiagnosticQuotesPreview(t *testing.T) {
	long := strings.Repeat("x", 2000)
	_, err := Extract(long)
	if err == nil {
		t.Fatal("expected error")
	}

	msg := err.Error()
	if !strings.Contains(msg, strings.Repeat("x", previewLimit)) {
		t.Error("diagnostic should quote the start of the response")
	}
	if strings.Contains(msg, strings.Repeat("x", previewLimit+1)) {
		t.Errorf("diagnostic quotes more than %d bytes of the response", previewLimit)
	}
}

func TestExtractDiagnosticQuotesShortResponseWhole(t *testing.T) {
	raw := "short reply without code"
	_, err := Extract(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), raw) {
		t.Errorf("diagnostic %q should contain the full short response", err.Error())
	}
}
