// ABOUTME: Sequential suite runner with per-scenario fixtures and capability skips
// ABOUTME: Turns scenario outcomes into a Result that reports and attestations consume
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gillisandrew/regverify/internal/domain"
)

// Status of a scenario after a run
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ScenarioResult is the outcome of a single scenario
type ScenarioResult struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Check       string        `json:"check,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Duration    time.Duration `json:"duration"`
	Notes       Notes         `json:"notes,omitempty"`
}

// Result is the outcome of a suite run
type Result struct {
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
	CoreVersion string             `json:"coreVersion"`
	Regime      string             `json:"regime"`
	Environment domain.Environment `json:"environment"`
	Scenarios   []ScenarioResult   `json:"scenarios"`
	Interrupted bool               `json:"interrupted,omitempty"`
}

// Passed reports whether no scenario failed
func (r *Result) Passed() bool {
	for _, s := range r.Scenarios {
		if s.Status == StatusFailed {
			return false
		}
	}
	return !r.Interrupted
}

// Count returns the number of scenarios with the given status
func (r *Result) Count(status Status) int {
	n := 0
	for _, s := range r.Scenarios {
		if s.Status == status {
			n++
		}
	}
	return n
}

// SuiteOpts configures a suite run
type SuiteOpts struct {
	// Fixture wrapped around every scenario (optional)
	Fixture domain.Fixture

	// Stop after the first failed scenario
	FailFast bool

	// Scenarios to run (default: all)
	Scenarios []Scenario

	// Bound on fixture teardown, which still runs after cancellation
	TeardownTimeout time.Duration
}

// DefaultTeardownTimeout bounds the unregister and config restore after a scenario
const DefaultTeardownTimeout = 5 * time.Minute

// DefaultSuiteOpts returns options that run every scenario
func DefaultSuiteOpts() *SuiteOpts {
	return &SuiteOpts{
		Scenarios:       Scenarios(),
		TeardownTimeout: DefaultTeardownTimeout,
	}
}

// WithFixture sets the per-scenario fixture
func (opts *SuiteOpts) WithFixture(f domain.Fixture) *SuiteOpts {
	opts.Fixture = f
	return opts
}

// WithFailFast stops the suite at the first failure
func (opts *SuiteOpts) WithFailFast(failFast bool) *SuiteOpts {
	opts.FailFast = failFast
	return opts
}

// WithTeardownTimeout bounds fixture teardown
func (opts *SuiteOpts) WithTeardownTimeout(timeout time.Duration) *SuiteOpts {
	opts.TeardownTimeout = timeout
	return opts
}

// WithScenarios restricts the run to the given scenarios
func (opts *SuiteOpts) WithScenarios(scenarios []Scenario) *SuiteOpts {
	opts.Scenarios = scenarios
	return opts
}

// Suite runs scenarios one at a time against a single agent
type Suite struct {
	h    *Harness
	opts *SuiteOpts
}

// NewSuite creates a suite over the harness
func NewSuite(h *Harness, opts *SuiteOpts) *Suite {
	if opts == nil {
		opts = DefaultSuiteOpts()
	}
	return &Suite{h: h, opts: opts}
}

// Run executes the scenarios. The returned error is reserved for problems that
// prevent running at all; assertion failures are recorded in the Result.
func (s *Suite) Run(ctx context.Context) (*Result, error) {
	log := s.h.logger()

	version, err := s.h.Agent.CoreVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent core version: %w", err)
	}
	regime := s.h.selector().Select(version)

	result := &Result{
		StartedAt:   time.Now().UTC(),
		CoreVersion: version.String(),
		Regime:      regime.Name,
		Environment: s.h.Environment,
	}
	log.Info("Starting registration lifecycle suite", log.Args(
		"coreVersion", result.CoreVersion,
		"regime", regime.Name,
		"environment", s.h.Environment.Name,
		"scenarios", len(s.opts.Scenarios),
	))

	for _, scenario := range s.opts.Scenarios {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		sr := s.runScenario(ctx, scenario)
		result.Scenarios = append(result.Scenarios, sr)

		if ctx.Err() != nil {
			log.Warn("Suite interrupted", log.Args("scenario", sr.Name, "error", ctx.Err()))
			result.Interrupted = true
			break
		}

		switch sr.Status {
		case StatusPassed:
			log.Info("Scenario passed", log.Args("scenario", sr.Name, "duration", sr.Duration.Round(time.Millisecond)))
		case StatusSkipped:
			log.Warn("Scenario skipped", log.Args("scenario", sr.Name, "reason", sr.Detail))
		case StatusFailed:
			log.Error("Scenario failed", log.Args("scenario", sr.Name, "check", sr.Check, "detail", sr.Detail))
			if s.opts.FailFast {
				result.FinishedAt = time.Now().UTC()
				return result, nil
			}
		}
	}

	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func (s *Suite) runScenario(ctx context.Context, scenario Scenario) (sr ScenarioResult) {
	sr = ScenarioResult{
		Name:        scenario.Name,
		Description: scenario.Description,
		Notes:       Notes{},
	}

	for _, c := range scenario.Requires {
		if !s.h.Environment.Has(c) {
			sr.Status = StatusSkipped
			sr.Detail = fmt.Sprintf("environment %q lacks capability %s", s.h.Environment.Name, c)
			return sr
		}
	}

	start := time.Now()
	defer func() { sr.Duration = time.Since(start) }()

	if f := s.opts.Fixture; f != nil {
		if err := f.Setup(ctx); err != nil {
			s.record(&sr, fmt.Errorf("fixture setup: %w", err))
			return sr
		}
	}

	err := scenario.Run(ctx, s.h, sr.Notes)

	if f := s.opts.Fixture; f != nil {
		if terr := s.teardown(ctx, f); terr != nil {
			s.h.logger().Warn("Fixture teardown failed", s.h.logger().Args("scenario", scenario.Name, "error", terr))
			if err == nil {
				err = fmt.Errorf("fixture teardown: %w", terr)
			}
		}
	}

	s.record(&sr, err)
	return sr
}

// teardown restores the host even when ctx was cancelled mid-scenario
func (s *Suite) teardown(ctx context.Context, f domain.Fixture) error {
	tctx := context.WithoutCancel(ctx)
	if s.opts.TeardownTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(tctx, s.opts.TeardownTimeout)
		defer cancel()
	}
	return f.Teardown(tctx)
}

func (s *Suite) record(sr *ScenarioResult, err error) {
	var (
		failure *Failure
		skip    *SkipError
	)
	switch {
	case err == nil:
		sr.Status = StatusPassed
	case errors.As(err, &skip):
		sr.Status = StatusSkipped
		sr.Detail = skip.Reason
	case errors.As(err, &failure):
		sr.Status = StatusFailed
		sr.Check = failure.Check
		sr.Detail = failure.Detail
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sr.Status = StatusFailed
		sr.Check = "interrupted"
		sr.Detail = err.Error()
	default:
		sr.Status = StatusFailed
		sr.Check = "error"
		sr.Detail = err.Error()
	}
}
