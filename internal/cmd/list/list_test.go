package list

import (
	"testing"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/verifier"
)

func TestScenarioTable(t *testing.T) {
	tests := []struct {
		name     string
		env      domain.Environment
		authRuns string
	}{
		{
			name:     "basic auth available",
			env:      domain.Environment{Name: "stage", Capabilities: []domain.Capability{domain.CapabilityBasicAuth}},
			authRuns: "yes",
		},
		{
			name:     "satellite",
			env:      domain.Environment{Name: "satellite"},
			authRuns: "skipped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := scenarioTable(verifier.Scenarios(), tt.env)
			if len(table) != len(verifier.Scenarios())+1 {
				t.Fatalf("expected header plus %d rows, got %d", len(verifier.Scenarios()), len(table))
			}

			for _, row := range table[1:] {
				switch row[0] {
				case "machine-id-changes-with-auth-method":
					if row[1] != "basic-auth" {
						t.Errorf("expected basic-auth requirement, got %s", row[1])
					}
					if row[2] != tt.authRuns {
						t.Errorf("expected runs=%s, got %s", tt.authRuns, row[2])
					}
				default:
					if row[1] != "-" || row[2] != "yes" {
						t.Errorf("scenario %s should have no requirements, got %v", row[0], row)
					}
				}
			}
		})
	}
}
