// ABOUTME: Persisted record of a registration lifecycle suite run
// ABOUTME: Handles report loading, validation and storage for later attestation and push
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/gillisandrew/regverify/internal/verifier"
)

const (
	ReportVersion      = "1"
	DefaultReportPerms = 0644

	// Media type of a serialized report when stored as an OCI layer
	MediaType = "application/vnd.regverify.report.v1+json"
)

// ReportOpts configures where reports are written
type ReportOpts struct {
	// Explicit report path (default: <Dir>/regverify-report-<run>.json)
	ReportPath string

	// Directory for generated report names (default: working directory)
	Dir string
}

// DefaultReportOpts returns default report options
func DefaultReportOpts() *ReportOpts {
	return &ReportOpts{
		Dir: ".",
	}
}

// WithReportPath sets an explicit report path
func (opts *ReportOpts) WithReportPath(path string) *ReportOpts {
	opts.ReportPath = path
	return opts
}

// WithDir sets the directory for generated report names
func (opts *ReportOpts) WithDir(dir string) *ReportOpts {
	opts.Dir = dir
	return opts
}

// ReportManager handles report storage
type ReportManager struct {
	opts *ReportOpts
}

// NewReportManager creates a report manager with the given options
func NewReportManager(opts *ReportOpts) *ReportManager {
	if opts == nil {
		opts = DefaultReportOpts()
	}
	return &ReportManager{opts: opts}
}

type Report struct {
	Version     string           `json:"version"`
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Metadata    Metadata         `json:"metadata"`
	Result      *verifier.Result `json:"result"`
}

type Metadata struct {
	Host        string `json:"host,omitempty"`
	ToolVersion string `json:"tool_version"`
	AgentBinary string `json:"agent_binary,omitempty"`
	AgentDigest string `json:"agent_digest,omitempty"`
	Settings    string `json:"settings,omitempty"`
}

// Summary counts scenario outcomes
type Summary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func NewReport(result *verifier.Result, metadata Metadata) *Report {
	if metadata.ToolVersion == "" {
		metadata.ToolVersion = "dev"
	}
	return &Report{
		Version:     ReportVersion,
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Metadata:    metadata,
		Result:      result,
	}
}

func (r *Report) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("report version is required")
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", r.RunID, err)
	}
	if r.Result == nil {
		return fmt.Errorf("report result is required")
	}
	if r.Result.CoreVersion == "" {
		return fmt.Errorf("result core version is required")
	}
	if r.Metadata.AgentDigest != "" {
		if _, err := digest.Parse(r.Metadata.AgentDigest); err != nil {
			return fmt.Errorf("invalid agent digest: %w", err)
		}
	}

	for i, s := range r.Result.Scenarios {
		if s.Name == "" {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		switch s.Status {
		case verifier.StatusPassed, verifier.StatusSkipped:
		case verifier.StatusFailed:
			if s.Check == "" {
				return fmt.Errorf("scenario %s: failed without a check", s.Name)
			}
		default:
			return fmt.Errorf("scenario %s: invalid status %q", s.Name, s.Status)
		}
	}

	return nil
}

// Passed reports whether the recorded run passed
func (r *Report) Passed() bool {
	return r.Result != nil && r.Result.Passed()
}

func (r *Report) Summary() Summary {
	if r.Result == nil {
		return Summary{}
	}
	return Summary{
		Passed:  r.Result.Count(verifier.StatusPassed),
		Failed:  r.Result.Count(verifier.StatusFailed),
		Skipped: r.Result.Count(verifier.StatusSkipped),
	}
}

// Marshal returns the serialized report as written to disk
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// FileName returns the generated file name for the report
func (r *Report) FileName() string {
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("regverify-report-%s.json", id)
}

func LoadReport(reportPath string) (*Report, error) {
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return ParseReport(data)
}

func ParseReport(data []byte) (*Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report: %w", err)
	}

	return &report, nil
}

func SaveReport(report *Report, reportPath string) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(reportPath), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := report.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(reportPath, data, DefaultReportPerms); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

// Path returns where the manager stores the report
func (rm *ReportManager) Path(report *Report) string {
	if rm.opts.ReportPath != "" {
		return rm.opts.ReportPath
	}
	return filepath.Join(rm.opts.Dir, report.FileName())
}

// SaveReport writes the report and returns its path
func (rm *ReportManager) SaveReport(report *Report) (string, error) {
	path := rm.Path(report)
	if err := SaveReport(report, path); err != nil {
		return "", fmt.Errorf("failed to save report to %s: %w", path, err)
	}
	return path, nil
}
