// ABOUTME: Human-readable rendering of test-result attestations
// ABOUTME: Used by report show to summarize a statement next to its report
package attestation

import (
	"fmt"
	"sort"
	"strings"

	intoto "github.com/in-toto/attestation/go/v1"
)

// FormatTestResult creates a human-readable summary of a statement
func FormatTestResult(stmt *intoto.Statement, tr *TestResult) string {
	var output strings.Builder

	output.WriteString(fmt.Sprintf("Attestation: %s\n", tr.Result))
	output.WriteString(fmt.Sprintf("   Predicate: %s\n", stmt.GetPredicateType()))

	for _, subject := range stmt.GetSubject() {
		algorithms := make([]string, 0, len(subject.GetDigest()))
		for algorithm := range subject.GetDigest() {
			algorithms = append(algorithms, algorithm)
		}
		sort.Strings(algorithms)
		for _, algorithm := range algorithms {
			output.WriteString(fmt.Sprintf("   Subject: %s %s:%s\n", subject.GetName(), algorithm, subject.GetDigest()[algorithm]))
		}
	}

	for _, c := range tr.Configuration {
		output.WriteString(fmt.Sprintf("   Configuration: %s\n", c.Name))
	}

	writeTests(&output, "Passed", tr.PassedTests)
	writeTests(&output, "Warned", tr.WarnedTests)
	writeTests(&output, "Failed", tr.FailedTests)

	return output.String()
}

func writeTests(output *strings.Builder, label string, tests []string) {
	if len(tests) == 0 {
		return
	}
	output.WriteString(fmt.Sprintf("   %s: %d\n", label, len(tests)))
	for _, test := range tests {
		output.WriteString(fmt.Sprintf("     - %s\n", test))
	}
}
