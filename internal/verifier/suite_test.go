package verifier

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/mock"
	"github.com/gillisandrew/regverify/internal/state"
)

func newHarness(t *testing.T, version string) (*Harness, *mock.Agent) {
	t.Helper()
	agent := mock.NewAgent(t.TempDir(), version)
	return &Harness{
		Agent:       agent,
		Observer:    state.NewObserver(agent.Paths()),
		Environment: mock.Environment(),
		Credentials: mock.Credentials(),
	}, agent
}

func runSuite(t *testing.T, h *Harness, agent *mock.Agent, names ...string) *Result {
	t.Helper()
	scenarios, err := Lookup(names...)
	require.NoError(t, err)

	opts := DefaultSuiteOpts().WithFixture(agent).WithScenarios(scenarios)
	result, err := NewSuite(h, opts).Run(context.Background())
	require.NoError(t, err)
	return result
}

func scenarioResult(t *testing.T, r *Result, name string) ScenarioResult {
	t.Helper()
	for _, s := range r.Scenarios {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("scenario %s not in result", name)
	return ScenarioResult{}
}

func TestSuitePassesAgainstConformingAgent(t *testing.T) {
	for _, version := range []string{"3.3.13-1", "3.4.2", "3.2.8", "3.3.12"} {
		t.Run(version, func(t *testing.T) {
			h, agent := newHarness(t, version)
			result := runSuite(t, h, agent)

			for _, s := range result.Scenarios {
				assert.Equal(t, StatusPassed, s.Status, "%s: %s %s", s.Name, s.Check, s.Detail)
			}
			assert.True(t, result.Passed())
			assert.Len(t, result.Scenarios, len(Scenarios()))
		})
	}
}

func TestSuiteRecordsRegime(t *testing.T) {
	h, agent := newHarness(t, "3.3.13")
	result := runSuite(t, h, agent, "machine-id-stable-across-reregistration")

	assert.Equal(t, "stable", result.Regime)
	s := scenarioResult(t, result, "machine-id-stable-across-reregistration")
	assert.Equal(t, "stable", s.Notes["regime"])
	assert.Equal(t, s.Notes["machineIdBefore"], s.Notes["machineIdAfter"])
	assert.Contains(t, s.Notes["machineIdBefore"], "sha256:")
}

func TestSuiteDetectsFaults(t *testing.T) {
	tests := []struct {
		name     string
		faults   mock.Faults
		scenario string
		check    string
	}{
		{
			name:     "machine-id left after unregister",
			faults:   mock.Faults{KeepMachineIDOnUnregister: true},
			scenario: "machine-id-only-when-registered",
			check:    "no-machine-id-after-unregister",
		},
		{
			name:     "no not-registered message",
			faults:   mock.Faults{SilentWhenUnregistered: true},
			scenario: "machine-id-only-when-registered",
			check:    "not-registered-message",
		},
		{
			name:     "sentinels never written",
			faults:   mock.Faults{SkipSentinels: true},
			scenario: "sentinels-track-last-action",
			check:    "registered-sentinel",
		},
		{
			name:     "auth method ignored",
			faults:   mock.Faults{IgnoreAuthMethod: true},
			scenario: "machine-id-changes-with-auth-method",
			check:    "machine-id-per-auth-method",
		},
		{
			name:     "not-registered message with exit zero",
			faults:   mock.Faults{ExitZeroWhenUnregistered: true},
			scenario: "machine-id-only-when-registered",
			check:    "not-registered-exit-code",
		},
		{
			name:     "machine-id written by unregistered run",
			faults:   mock.Faults{WriteMachineIDWhenUnregistered: true},
			scenario: "machine-id-only-when-registered",
			check:    "no-machine-id-after-unregistered-run",
		},
		{
			name:     "register without machine-id",
			faults:   mock.Faults{SkipMachineIDOnRegister: true},
			scenario: "machine-id-only-when-registered",
			check:    "machine-id-after-register",
		},
		{
			name:     "unregistered sentinel never written",
			faults:   mock.Faults{SkipUnregisteredSentinel: true},
			scenario: "sentinels-track-last-action",
			check:    "unregistered-sentinel",
		},
		{
			name:     "no already-registered message",
			faults:   mock.Faults{OmitAlreadyRegisteredMessage: true},
			scenario: "double-registration",
			check:    "already-registered-message",
		},
		{
			name:     "double register rotates machine-id",
			faults:   mock.Faults{RotateOnDoubleRegister: true},
			scenario: "double-registration",
			check:    "machine-id-unchanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, agent := newHarness(t, "3.4.0")
			agent.Faults = tt.faults

			result := runSuite(t, h, agent, tt.scenario)
			s := scenarioResult(t, result, tt.scenario)

			assert.Equal(t, StatusFailed, s.Status)
			assert.Equal(t, tt.check, s.Check)
			assert.False(t, result.Passed())
		})
	}
}

// reportedVersion makes an agent claim a core version it does not behave like
type reportedVersion struct {
	domain.Agent
	version semver.Version
}

func (r *reportedVersion) CoreVersion(ctx context.Context) (semver.Version, error) {
	return r.version, nil
}

func TestVersionRegimeMismatchFails(t *testing.T) {
	h, agent := newHarness(t, "3.2.8")
	h.Agent = &reportedVersion{Agent: agent, version: semver.MustParse("3.4.0")}

	result := runSuite(t, h, agent, "machine-id-stable-across-reregistration")

	assert.Equal(t, "stable", result.Regime)
	s := scenarioResult(t, result, "machine-id-stable-across-reregistration")
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "machine-id-regime", s.Check)
	assert.NotEqual(t, s.Notes["machineIdBefore"], s.Notes["machineIdAfter"])
}

func TestAuthMethodScenarioSkippedWithoutCapability(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")
	h.Environment = domain.Environment{Name: "satellite"}

	result := runSuite(t, h, agent, "machine-id-changes-with-auth-method")
	s := scenarioResult(t, result, "machine-id-changes-with-auth-method")

	assert.Equal(t, StatusSkipped, s.Status)
	assert.Contains(t, s.Detail, "basic-auth")
	assert.True(t, result.Passed())
	assert.Empty(t, agent.Calls, "a skipped scenario must not drive the agent")
}

func TestAuthMethodScenarioNeedsCredentials(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")
	h.Credentials = domain.Credentials{}

	result := runSuite(t, h, agent, "machine-id-changes-with-auth-method")
	s := scenarioResult(t, result, "machine-id-changes-with-auth-method")
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "error", s.Check)
}

func TestDoubleRegisterExitPolicy(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")
	agent.DoubleRegisterExit = 1

	result := runSuite(t, h, agent, "double-registration")
	s := scenarioResult(t, result, "double-registration")
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "already-registered-exit-code", s.Check)

	h.DoubleRegisterExit = ExitPolicyAny
	result = runSuite(t, h, agent, "double-registration")
	s = scenarioResult(t, result, "double-registration")
	assert.Equal(t, StatusPassed, s.Status)
	assert.Equal(t, "1", s.Notes["secondRegisterExitCode"])
}

func TestPreconditionFailsWhenAlreadyRegistered(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")
	_, err := agent.Register(context.Background())
	require.NoError(t, err)

	scenarios, err := Lookup("sentinels-track-last-action")
	require.NoError(t, err)
	result, err := NewSuite(h, DefaultSuiteOpts().WithScenarios(scenarios)).Run(context.Background())
	require.NoError(t, err)

	s := scenarioResult(t, result, "sentinels-track-last-action")
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "precondition-unregistered", s.Check)
}

func TestFailFastStopsSuite(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")
	agent.Faults = mock.Faults{SilentWhenUnregistered: true}

	opts := DefaultSuiteOpts().WithFixture(agent).WithFailFast(true)
	result, err := NewSuite(h, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Scenarios, 1)
	assert.Equal(t, 1, result.Count(StatusFailed))
}

func TestCancelledContextInterruptsSuite(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewSuite(h, DefaultSuiteOpts().WithFixture(agent)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
}

// cancelAfterRegister cancels the run as soon as the host is registered
type cancelAfterRegister struct {
	*mock.Agent
	cancel context.CancelFunc
}

func (c *cancelAfterRegister) Register(ctx context.Context) (*domain.RunResult, error) {
	res, err := c.Agent.Register(ctx)
	c.cancel()
	return res, err
}

func TestInterruptedScenarioIsTornDown(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Agent = &cancelAfterRegister{Agent: agent, cancel: cancel}

	scenarios, err := Lookup("machine-id-stable-across-reregistration", "double-registration")
	require.NoError(t, err)

	opts := DefaultSuiteOpts().WithFixture(agent).WithScenarios(scenarios).WithTeardownTimeout(time.Minute)
	result, err := NewSuite(h, opts).Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Interrupted)
	assert.False(t, result.Passed())
	require.Len(t, result.Scenarios, 1, "no scenario starts after cancellation")
	assert.Equal(t, "interrupted", result.Scenarios[0].Check)

	_, err = os.Stat(agent.Paths().MachineID)
	assert.True(t, os.IsNotExist(err), "teardown must unregister the host after cancellation")

	registered, err := agent.IsRegistered(context.Background())
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestInterruptOnLastScenarioIsRecorded(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Agent = &cancelAfterRegister{Agent: agent, cancel: cancel}

	scenarios, err := Lookup("double-registration")
	require.NoError(t, err)
	result, err := NewSuite(h, DefaultSuiteOpts().WithFixture(agent).WithScenarios(scenarios)).Run(ctx)
	require.NoError(t, err)

	assert.True(t, result.Interrupted)
	assert.Equal(t, "interrupted", result.Scenarios[0].Check)
}

// equalSentinelTimes leaves both sentinels behind with one modification time
type equalSentinelTimes struct {
	*mock.Agent
}

func (e *equalSentinelTimes) Unregister(ctx context.Context) (*domain.RunResult, error) {
	res, err := e.Agent.Unregister(ctx)
	if err != nil {
		return res, err
	}
	paths := e.Paths()
	info, err := os.Stat(paths.Unregistered)
	if err != nil {
		return res, err
	}
	if err := os.WriteFile(paths.Registered, nil, 0644); err != nil {
		return res, err
	}
	return res, os.Chtimes(paths.Registered, info.ModTime(), info.ModTime())
}

func TestEqualSentinelTimesAreAmbiguous(t *testing.T) {
	h, agent := newHarness(t, "3.4.0")
	h.Agent = &equalSentinelTimes{Agent: agent}

	result := runSuite(t, h, agent, "sentinels-track-last-action")
	s := scenarioResult(t, result, "sentinels-track-last-action")

	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "sentinel-order-ambiguous", s.Check)
}

func TestLookupUnknownScenario(t *testing.T) {
	_, err := Lookup("double-registration", "no-such-scenario")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-scenario")
}

func TestParseExitPolicy(t *testing.T) {
	p, err := ParseExitPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ExitPolicyZero, p)

	p, err = ParseExitPolicy("any")
	require.NoError(t, err)
	assert.Equal(t, ExitPolicyAny, p)

	_, err = ParseExitPolicy("nonzero")
	assert.Error(t, err)
}
