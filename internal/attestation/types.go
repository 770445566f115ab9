// ABOUTME: Type definitions and constants for registration test-result attestations
// ABOUTME: Mirrors the in-toto test-result predicate produced for each suite run
package attestation

const (
	// Predicate type for in-toto test results
	TestResultPredicateV0 = "https://in-toto.io/attestation/test-result/v0.1"

	// Media type of a serialized statement when stored as an OCI layer
	MediaType = "application/vnd.in-toto+json"

	// Subject name used for the agent under test
	AgentSubjectName = "insights-client-core"
)

// Outcome is the overall result recorded in the predicate
type Outcome string

const (
	OutcomePassed Outcome = "PASSED"
	OutcomeWarned Outcome = "WARNED"
	OutcomeFailed Outcome = "FAILED"
)

// TestResult is the decoded test-result predicate
type TestResult struct {
	Result        Outcome         `json:"result"`
	Configuration []Configuration `json:"configuration,omitempty"`
	URL           string          `json:"url,omitempty"`
	PassedTests   []string        `json:"passedTests,omitempty"`
	WarnedTests   []string        `json:"warnedTests,omitempty"`
	FailedTests   []string        `json:"failedTests,omitempty"`
}

// Configuration describes an input that shaped the run
type Configuration struct {
	Name   string            `json:"name"`
	URI    string            `json:"uri,omitempty"`
	Digest map[string]string `json:"digest,omitempty"`
}
