// ABOUTME: Core domain types for the regverify application
// ABOUTME: Defines the registration agent contract, run results, auth methods and environments
package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/blang/semver"
)

// Literal output of the agent that the verifier asserts against
const (
	MessageNotRegistered     = "This host has not been registered. Use --register to register this host."
	MessageAlreadyRegistered = "This host has already been registered"
)

// RunResult is the outcome of a single agent invocation
type RunResult struct {
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Succeeded reports whether the invocation exited zero
func (r *RunResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// ExitError is returned by checked invocations that exit non-zero
type ExitError struct {
	Result *RunResult
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("insights-client %s exited with code %d: %s",
		strings.Join(e.Result.Args, " "), e.Result.ExitCode, strings.TrimSpace(e.Result.Stderr))
}

// AuthMethod selects how the agent authenticates against the backend
type AuthMethod string

const (
	AuthMethodCert  AuthMethod = "CERT"
	AuthMethodBasic AuthMethod = "BASIC"
)

// ParseAuthMethod normalizes a configured auth method; empty means CERT
func ParseAuthMethod(raw string) (AuthMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(AuthMethodCert):
		return AuthMethodCert, nil
	case string(AuthMethodBasic):
		return AuthMethodBasic, nil
	default:
		return "", fmt.Errorf("unknown auth method: %q", raw)
	}
}

// Credentials holds basic-auth credentials for the registration backend
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Empty reports whether no username is set
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Username) == ""
}

// Capability is a property of the deployment environment scenarios may require
type Capability string

const (
	// CapabilityBasicAuth means the environment accepts switching the agent to BASIC auth
	CapabilityBasicAuth Capability = "basic-auth"
)

// Environment describes the deployment the agent registers against
type Environment struct {
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities"`
}

// Has reports whether the environment carries the capability
func (e Environment) Has(c Capability) bool {
	for _, have := range e.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// AgentConfig is the agent's mutable configuration. Changes take effect only after Save.
type AgentConfig interface {
	AutoConfig() bool
	SetAutoConfig(enabled bool)
	AuthMethod() AuthMethod
	SetAuthMethod(method AuthMethod)
	SetCredentials(creds Credentials)
	Save() error
}

// Agent is the external registration agent driven by the verifier
type Agent interface {
	// Run invokes the agent with args; when check is set a non-zero exit returns *ExitError
	Run(ctx context.Context, check bool, args ...string) (*RunResult, error)
	Register(ctx context.Context) (*RunResult, error)
	Unregister(ctx context.Context) (*RunResult, error)
	IsRegistered(ctx context.Context) (bool, error)
	CoreVersion(ctx context.Context) (semver.Version, error)
	Config() (AgentConfig, error)
}

// Fixture prepares and restores agent state around a scenario
type Fixture interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}
