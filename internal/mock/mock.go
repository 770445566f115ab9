// ABOUTME: Shared simulated registration agent for testing across all packages
// ABOUTME: Honors the insights-client CLI and filesystem contract without a backend
package mock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/google/uuid"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/policy"
	"github.com/gillisandrew/regverify/internal/state"
)

// Faults make the simulated agent violate one lifecycle invariant
type Faults struct {
	// Leave machine-id in place on --unregister
	KeepMachineIDOnUnregister bool
	// Never write .registered / .unregistered
	SkipSentinels bool
	// Reuse the same machine-id regardless of auth method
	IgnoreAuthMethod bool
	// Issue a new machine-id on a second --register
	RotateOnDoubleRegister bool
	// Exit zero and print nothing when run unregistered
	SilentWhenUnregistered bool
	// Print the not-registered message but exit zero
	ExitZeroWhenUnregistered bool
	// Write machine-id on a bare run while unregistered
	WriteMachineIDWhenUnregistered bool
	// Register without writing machine-id
	SkipMachineIDOnRegister bool
	// Never write .unregistered on --unregister
	SkipUnregisteredSentinel bool
	// Drop the already-registered message on a second --register
	OmitAlreadyRegisteredMessage bool
}

// Agent is an in-process stand-in for insights-client rooted at a state directory
type Agent struct {
	mu sync.Mutex

	paths   state.Paths
	version semver.Version
	saved   settings
	ids     map[domain.AuthMethod]string
	tick    time.Time

	// Exit code of a --register on an already registered host
	DoubleRegisterExit int
	Faults             Faults
	Calls              []string
}

type settings struct {
	autoConfig bool
	authMethod domain.AuthMethod
	creds      domain.Credentials
}

func defaultSettings() settings {
	return settings{autoConfig: true, authMethod: domain.AuthMethodCert}
}

// NewAgent creates a simulated agent of the given core version writing under stateDir
func NewAgent(stateDir string, version string) *Agent {
	v, err := policy.ParseVersion(version)
	if err != nil {
		panic(fmt.Sprintf("mock: invalid version %q: %v", version, err))
	}
	return &Agent{
		paths:   state.PathsUnder(stateDir),
		version: v,
		saved:   defaultSettings(),
		ids:     make(map[domain.AuthMethod]string),
		tick:    time.Now().Add(-time.Hour).Truncate(time.Second),
	}
}

// Paths returns the files the agent maintains
func (a *Agent) Paths() state.Paths {
	return a.paths
}

// Run dispatches on the first argument like the real CLI
func (a *Agent) Run(ctx context.Context, check bool, args ...string) (*domain.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.Calls = append(a.Calls, strings.Join(args, " "))

	var (
		res *domain.RunResult
		err error
	)
	if len(args) == 0 {
		res, err = a.upload()
	} else {
		switch args[0] {
		case "--register":
			res, err = a.register()
		case "--unregister":
			res, err = a.unregister()
		case "--status":
			res, err = a.status()
		case "--version":
			res = &domain.RunResult{Stdout: fmt.Sprintf("Client: 3.2.2\nCore: %s\n", a.version)}
		default:
			res = &domain.RunResult{ExitCode: 2, Stderr: fmt.Sprintf("unrecognized arguments: %s\n", strings.Join(args, " "))}
		}
	}
	if err != nil {
		return nil, err
	}

	res.Args = args
	if check && res.ExitCode != 0 {
		return res, &domain.ExitError{Result: res}
	}
	return res, nil
}

// Register runs --register and requires success
func (a *Agent) Register(ctx context.Context) (*domain.RunResult, error) {
	return a.Run(ctx, true, "--register")
}

// Unregister runs --unregister and requires success
func (a *Agent) Unregister(ctx context.Context) (*domain.RunResult, error) {
	return a.Run(ctx, true, "--unregister")
}

// IsRegistered mirrors --status
func (a *Agent) IsRegistered(ctx context.Context) (bool, error) {
	res, err := a.Run(ctx, false, "--status")
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// CoreVersion returns the simulated core version
func (a *Agent) CoreVersion(ctx context.Context) (semver.Version, error) {
	return a.version, ctx.Err()
}

// Config returns an editable copy of the persisted settings
func (a *Agent) Config() (domain.AgentConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &Config{agent: a, pending: a.saved}, nil
}

// Setup is a no-op; the simulated agent starts clean
func (a *Agent) Setup(ctx context.Context) error {
	return nil
}

// Teardown unregisters and restores default settings
func (a *Agent) Teardown(ctx context.Context) error {
	registered, err := a.IsRegistered(ctx)
	if err != nil {
		return err
	}
	if registered {
		if _, err := a.Unregister(ctx); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.saved = defaultSettings()
	a.mu.Unlock()
	return nil
}

func (a *Agent) registered() bool {
	_, err := os.Stat(a.paths.MachineID)
	return err == nil
}

func (a *Agent) upload() (*domain.RunResult, error) {
	if a.registered() {
		return &domain.RunResult{Stdout: "Successfully uploaded report for this host.\n"}, nil
	}
	if a.Faults.SilentWhenUnregistered {
		return &domain.RunResult{}, nil
	}
	if a.Faults.WriteMachineIDWhenUnregistered {
		if err := a.writeMachineID(uuid.NewString()); err != nil {
			return nil, err
		}
	}
	res := &domain.RunResult{ExitCode: 1, Stdout: domain.MessageNotRegistered + "\n"}
	if a.Faults.ExitZeroWhenUnregistered {
		res.ExitCode = 0
	}
	return res, nil
}

func (a *Agent) status() (*domain.RunResult, error) {
	if a.registered() {
		return &domain.RunResult{Stdout: "This host is registered.\n"}, nil
	}
	return &domain.RunResult{ExitCode: 1, Stdout: "This host is unregistered.\n"}, nil
}

func (a *Agent) register() (*domain.RunResult, error) {
	if a.registered() {
		if a.Faults.RotateOnDoubleRegister {
			if err := a.writeMachineID(uuid.NewString()); err != nil {
				return nil, err
			}
		}
		res := &domain.RunResult{
			ExitCode: a.DoubleRegisterExit,
			Stdout:   domain.MessageAlreadyRegistered + ".\n",
		}
		if a.Faults.OmitAlreadyRegisteredMessage {
			res.Stdout = "Successfully registered host\n"
		}
		return res, nil
	}

	method := a.saved.authMethod
	if method == domain.AuthMethodBasic && a.saved.creds.Empty() {
		return &domain.RunResult{ExitCode: 1, Stderr: "Unable to register: BASIC auth requires username and password\n"}, nil
	}

	key := method
	if a.Faults.IgnoreAuthMethod {
		key = domain.AuthMethodCert
	}
	id, ok := a.ids[key]
	if !ok || !policy.StableRegime().Applies(a.version) {
		id = uuid.NewString()
		a.ids[key] = id
	}

	if !a.Faults.SkipMachineIDOnRegister {
		if err := a.writeMachineID(id); err != nil {
			return nil, err
		}
	}
	if !a.Faults.SkipSentinels {
		if err := a.touch(a.paths.Registered); err != nil {
			return nil, err
		}
		if err := removeIfExists(a.paths.Unregistered); err != nil {
			return nil, err
		}
	}
	return &domain.RunResult{Stdout: "Successfully registered host\n"}, nil
}

func (a *Agent) unregister() (*domain.RunResult, error) {
	if !a.registered() {
		return &domain.RunResult{ExitCode: 1, Stdout: "This host is not registered, unregistration is not applicable.\n"}, nil
	}
	if !a.Faults.KeepMachineIDOnUnregister {
		if err := removeIfExists(a.paths.MachineID); err != nil {
			return nil, err
		}
	}
	if !a.Faults.SkipSentinels {
		if !a.Faults.SkipUnregisteredSentinel {
			if err := a.touch(a.paths.Unregistered); err != nil {
				return nil, err
			}
		}
		if err := removeIfExists(a.paths.Registered); err != nil {
			return nil, err
		}
	}
	return &domain.RunResult{Stdout: "Successfully unregistered from the Red Hat Insights Service\n"}, nil
}

func (a *Agent) writeMachineID(id string) error {
	if err := os.WriteFile(a.paths.MachineID, []byte(id), 0644); err != nil {
		return fmt.Errorf("mock: failed to write machine-id: %w", err)
	}
	return nil
}

// touch writes a sentinel with a strictly increasing modification time
func (a *Agent) touch(path string) error {
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("mock: failed to write %s: %w", path, err)
	}
	a.tick = a.tick.Add(time.Second)
	return os.Chtimes(path, a.tick, a.tick)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("mock: failed to remove %s: %w", path, err)
	}
	return nil
}

// Config is a pending edit of the simulated agent's settings
type Config struct {
	agent   *Agent
	pending settings
}

func (c *Config) AutoConfig() bool                        { return c.pending.autoConfig }
func (c *Config) SetAutoConfig(enabled bool)              { c.pending.autoConfig = enabled }
func (c *Config) AuthMethod() domain.AuthMethod           { return c.pending.authMethod }
func (c *Config) SetAuthMethod(method domain.AuthMethod)  { c.pending.authMethod = method }
func (c *Config) SetCredentials(creds domain.Credentials) { c.pending.creds = creds }

// Save makes the pending settings visible to the next invocation
func (c *Config) Save() error {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.saved = c.pending
	return nil
}

// Credentials returns fixed basic-auth credentials for tests
func Credentials() domain.Credentials {
	return domain.Credentials{Username: "candlepin-user", Password: "candlepin-password"}
}

// Environment returns a deployment that permits BASIC auth
func Environment() domain.Environment {
	return domain.Environment{Name: "stage", Capabilities: []domain.Capability{domain.CapabilityBasicAuth}}
}
