package auth

import (
	"strings"
	"testing"
)

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{token: "", expected: "********"},
		{token: "short", expected: "********"},
		{token: "12345678", expected: "********"},
		{token: "candlepin-password", expected: "cand...word"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := maskToken(tt.token); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestReadSecretFromStdin(t *testing.T) {
	secret, err := readSecret(strings.NewReader("s3cret\n"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "s3cret" {
		t.Errorf("expected s3cret, got %q", secret)
	}

	secret, err = readSecret(strings.NewReader("no-newline"), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secret != "no-newline" {
		t.Errorf("expected no-newline, got %q", secret)
	}

	if _, err := readSecret(strings.NewReader("\n"), true); err == nil {
		t.Errorf("expected error for empty password")
	}
}
