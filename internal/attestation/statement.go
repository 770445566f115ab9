// ABOUTME: Builds and parses in-toto test-result statements for suite reports
// ABOUTME: Subjects bind the outcome to the agent core and the exact report bytes
package attestation

import (
	"encoding/json"
	"fmt"
	"os"

	intoto "github.com/in-toto/attestation/go/v1"
	"github.com/opencontainers/go-digest"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gillisandrew/regverify/internal/report"
	"github.com/gillisandrew/regverify/internal/verifier"
)

// StatementOpts configures the statement built for a report
type StatementOpts struct {
	// Name and digest of the serialized report
	ReportName   string
	ReportDigest digest.Digest

	// Settings file that configured the run
	SettingsPath   string
	SettingsDigest digest.Digest

	// Link to the run (CI job, ticket)
	URL string
}

// DefaultStatementOpts returns empty statement options
func DefaultStatementOpts() *StatementOpts {
	return &StatementOpts{}
}

// WithReport adds the serialized report as a subject
func (opts *StatementOpts) WithReport(name string, d digest.Digest) *StatementOpts {
	opts.ReportName = name
	opts.ReportDigest = d
	return opts
}

// WithSettings records the settings file as configuration
func (opts *StatementOpts) WithSettings(path string, d digest.Digest) *StatementOpts {
	opts.SettingsPath = path
	opts.SettingsDigest = d
	return opts
}

// WithURL sets the run URL
func (opts *StatementOpts) WithURL(url string) *StatementOpts {
	opts.URL = url
	return opts
}

// NewStatement builds a test-result statement for the report
func NewStatement(r *report.Report, opts *StatementOpts) (*intoto.Statement, error) {
	if opts == nil {
		opts = DefaultStatementOpts()
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}

	subjects := []*intoto.ResourceDescriptor{
		{
			Name:   AgentSubjectName + "@" + r.Result.CoreVersion,
			Digest: digestMap(AgentDigest(r)),
		},
	}
	if opts.ReportDigest != "" {
		subjects = append(subjects, &intoto.ResourceDescriptor{
			Name:      opts.ReportName,
			Digest:    digestMap(opts.ReportDigest),
			MediaType: report.MediaType,
		})
	}

	predicate, err := encodePredicate(NewTestResult(r, opts))
	if err != nil {
		return nil, err
	}

	stmt := &intoto.Statement{
		Type:          intoto.StatementTypeUri,
		Subject:       subjects,
		PredicateType: TestResultPredicateV0,
		Predicate:     predicate,
	}
	if err := stmt.Validate(); err != nil {
		return nil, fmt.Errorf("in-toto validation failed: %w", err)
	}
	return stmt, nil
}

// NewTestResult derives the predicate from a report
func NewTestResult(r *report.Report, opts *StatementOpts) *TestResult {
	tr := &TestResult{
		Result: OutcomePassed,
		URL:    opts.URL,
		Configuration: []Configuration{
			{Name: "environment/" + r.Result.Environment.Name},
			{Name: "regime/" + r.Result.Regime},
		},
	}
	if opts.SettingsPath != "" {
		tr.Configuration = append(tr.Configuration, Configuration{
			Name:   "settings",
			URI:    "file://" + opts.SettingsPath,
			Digest: digestMap(opts.SettingsDigest),
		})
	}

	for _, s := range r.Result.Scenarios {
		switch s.Status {
		case verifier.StatusPassed:
			tr.PassedTests = append(tr.PassedTests, s.Name)
		case verifier.StatusSkipped:
			tr.WarnedTests = append(tr.WarnedTests, s.Name)
		case verifier.StatusFailed:
			tr.FailedTests = append(tr.FailedTests, s.Name)
		}
	}

	switch {
	case len(tr.FailedTests) > 0 || r.Result.Interrupted:
		tr.Result = OutcomeFailed
	case len(tr.WarnedTests) > 0:
		tr.Result = OutcomeWarned
	}
	return tr
}

// AgentDigest identifies the agent under test: the binary digest when it was
// recorded, otherwise a digest of the core version string
func AgentDigest(r *report.Report) digest.Digest {
	if d, err := digest.Parse(r.Metadata.AgentDigest); err == nil {
		return d
	}
	return digest.FromString(AgentSubjectName + "@" + r.Result.CoreVersion)
}

// DigestFile returns the sha256 digest of a file's contents
func DigestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	d, err := digest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", path, err)
	}
	return d, nil
}

// Marshal encodes a statement as indented JSON
func Marshal(stmt *intoto.Statement) ([]byte, error) {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal statement: %w", err)
	}
	return data, nil
}

// Parse decodes and validates a test-result statement
func Parse(data []byte) (*intoto.Statement, *TestResult, error) {
	var stmt intoto.Statement
	if err := protojson.Unmarshal(data, &stmt); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal statement: %w", err)
	}
	return checkStatement(&stmt)
}

// LoadFile reads and parses a statement from disk
func LoadFile(path string) (*intoto.Statement, *TestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read attestation: %w", err)
	}
	return Parse(data)
}

// ValidateSubjectMatch verifies one of the statement subjects carries d
func ValidateSubjectMatch(stmt *intoto.Statement, d digest.Digest) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid digest: %w", err)
	}
	for _, subject := range stmt.GetSubject() {
		if subject.GetDigest()[d.Algorithm().String()] == d.Encoded() {
			return nil
		}
	}
	return fmt.Errorf("digest mismatch: no subject matches %s", d)
}

func digestMap(d digest.Digest) map[string]string {
	if d == "" {
		return nil
	}
	return map[string]string{d.Algorithm().String(): d.Encoded()}
}

func encodePredicate(tr *TestResult) (*structpb.Struct, error) {
	data, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predicate: %w", err)
	}
	predicate := &structpb.Struct{}
	if err := protojson.Unmarshal(data, predicate); err != nil {
		return nil, fmt.Errorf("failed to build predicate: %w", err)
	}
	return predicate, nil
}

func decodePredicate(predicate *structpb.Struct) (*TestResult, error) {
	data, err := protojson.Marshal(predicate)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predicate: %w", err)
	}
	var tr TestResult
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test result: %w", err)
	}
	switch tr.Result {
	case OutcomePassed, OutcomeWarned, OutcomeFailed:
	default:
		return nil, fmt.Errorf("invalid test result: %q", tr.Result)
	}
	return &tr, nil
}
