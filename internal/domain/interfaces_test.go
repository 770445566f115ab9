package domain

import (
	"errors"
	"strings"
	"testing"
)

// TestDomainInterfaces documents the collaborator contracts and where they are implemented
func TestDomainInterfaces(t *testing.T) {
	t.Run("Agent", func(t *testing.T) {
		t.Log("Agent drives the registration agent binary:")
		t.Log("  - Run(ctx, check, args...) (*RunResult, error)")
		t.Log("  - Register / Unregister / IsRegistered / CoreVersion / Config")
		t.Log("Implementations: internal/client (real binary), internal/mock (simulated)")
	})

	t.Run("Fixture", func(t *testing.T) {
		t.Log("Fixture wraps each scenario with Setup/Teardown")
		t.Log("Implementations: internal/client.ConfigFixture, internal/mock.Agent")
	})
}

func TestParseAuthMethod(t *testing.T) {
	tests := []struct {
		raw         string
		expected    AuthMethod
		expectError bool
	}{
		{raw: "", expected: AuthMethodCert},
		{raw: "cert", expected: AuthMethodCert},
		{raw: " BASIC ", expected: AuthMethodBasic},
		{raw: "kerberos", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAuthMethod(tt.raw)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestEnvironmentHas(t *testing.T) {
	env := Environment{Name: "prod", Capabilities: []Capability{CapabilityBasicAuth}}
	if !env.Has(CapabilityBasicAuth) {
		t.Error("expected prod to carry basic-auth")
	}

	satellite := Environment{Name: "satellite"}
	if satellite.Has(CapabilityBasicAuth) {
		t.Error("satellite should not carry basic-auth")
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Result: &RunResult{
		Args:     []string{"--register"},
		ExitCode: 1,
		Stderr:   "connection refused\n",
	}}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatal("expected errors.As to match *ExitError")
	}
	if !strings.Contains(err.Error(), "--register exited with code 1: connection refused") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
