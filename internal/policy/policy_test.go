package policy

import (
	"testing"

	"github.com/blang/semver"
)

func TestDefaultSelectorRegimes(t *testing.T) {
	tests := []struct {
		version  string
		expected string
	}{
		{version: "3.3.13", expected: "stable"},
		{version: "3.3.13-1", expected: "stable"},
		{version: "3.4.0", expected: "stable"},
		{version: "4.0", expected: "stable"},
		{version: "3.3.12", expected: "regenerated"},
		{version: "3.2.8-1.el9", expected: "regenerated"},
		{version: "v3.1.0", expected: "regenerated"},
	}

	selector := DefaultSelector()
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			v, err := ParseVersion(tt.version)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if got := selector.Select(v).Name; got != tt.expected {
				t.Errorf("version %s: expected regime %s, got %s", tt.version, tt.expected, got)
			}
		})
	}
}

func TestStableRegimeCheck(t *testing.T) {
	r := StableRegime()
	if err := r.Check("abc123", "abc123"); err != nil {
		t.Errorf("equal tokens should pass: %v", err)
	}
	if err := r.Check("abc123", "def456"); err == nil {
		t.Error("changed token should fail in the stable regime")
	}
}

func TestRegeneratedRegimeCheck(t *testing.T) {
	r := RegeneratedRegime()
	if err := r.Check("abc123", "def456"); err != nil {
		t.Errorf("changed tokens should pass: %v", err)
	}
	if err := r.Check("abc123", "abc123"); err == nil {
		t.Error("unchanged token should fail in the regenerated regime")
	}
}

func TestCustomSelectorOrder(t *testing.T) {
	legacy := Regime{
		Name:    "legacy",
		Applies: func(v semver.Version) bool { return v.Major < 3 },
		Expect:  ExpectDifferent,
	}
	selector := NewSelector(StableRegime(), legacy)

	if got := selector.Select(semver.MustParse("2.9.0")).Name; got != "legacy" {
		t.Errorf("expected legacy, got %s", got)
	}
	if got := selector.Select(semver.MustParse("3.0.0")).Name; got != "stable" {
		t.Errorf("expected fallback stable, got %s", got)
	}
}

func TestParseVersionErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-version"} {
		if _, err := ParseVersion(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
