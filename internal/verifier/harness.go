// ABOUTME: Collaborators and shared assertions used by every scenario
// ABOUTME: Wraps agent calls and filesystem reads into hard, first-failure-wins checks
package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/policy"
	"github.com/gillisandrew/regverify/internal/state"
)

// ExitPolicy decides which exit codes a repeated --register may return
type ExitPolicy string

const (
	ExitPolicyZero ExitPolicy = "zero"
	ExitPolicyAny  ExitPolicy = "any"
)

// ParseExitPolicy validates a configured exit policy; empty means zero
func ParseExitPolicy(raw string) (ExitPolicy, error) {
	switch ExitPolicy(raw) {
	case "", ExitPolicyZero:
		return ExitPolicyZero, nil
	case ExitPolicyAny:
		return ExitPolicyAny, nil
	default:
		return "", fmt.Errorf("invalid double-register exit policy: %q (must be 'zero' or 'any')", raw)
	}
}

// Harness carries the collaborators a scenario observes and drives
type Harness struct {
	Agent              domain.Agent
	Observer           *state.Observer
	Environment        domain.Environment
	Credentials        domain.Credentials
	Selector           *policy.Selector
	DoubleRegisterExit ExitPolicy
	Logger             *pterm.Logger
}

func (h *Harness) logger() *pterm.Logger {
	if h.Logger == nil {
		h.Logger = pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled)
	}
	return h.Logger
}

func (h *Harness) selector() *policy.Selector {
	if h.Selector == nil {
		h.Selector = policy.DefaultSelector()
	}
	return h.Selector
}

// requireUnregistered is the precondition every scenario starts from
func (h *Harness) requireUnregistered(ctx context.Context) error {
	registered, err := h.Agent.IsRegistered(ctx)
	if err != nil {
		return fmt.Errorf("failed to query registration status: %w", err)
	}
	if registered {
		return failf("precondition-unregistered", "agent reports the host is already registered")
	}
	return h.expectMarker(false, "precondition-no-machine-id")
}

func (h *Harness) register(ctx context.Context) (*domain.RunResult, error) {
	res, err := h.Agent.Register(ctx)
	if err != nil {
		return res, fmt.Errorf("register: %w", err)
	}
	return res, nil
}

func (h *Harness) unregister(ctx context.Context) error {
	if _, err := h.Agent.Unregister(ctx); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	return nil
}

func (h *Harness) expectMarker(present bool, check string) error {
	exists, err := h.Observer.MachineIDExists()
	if err != nil {
		return err
	}
	if exists != present {
		if present {
			return failf(check, "%s is missing", h.Observer.Paths().MachineID)
		}
		return failf(check, "%s exists", h.Observer.Paths().MachineID)
	}
	return nil
}

// captureMachineID reads the token and records its digest under key
func (h *Harness) captureMachineID(notes Notes, key string) (string, error) {
	if err := h.expectMarker(true, "machine-id-present"); err != nil {
		return "", err
	}
	id, err := h.Observer.ReadMachineID()
	if err != nil {
		return "", err
	}
	snap := state.Snapshot{MachineIDPresent: true, MachineID: id}
	notes.Set(key, snap.MachineIDDigest().String())
	return id, nil
}

func (h *Harness) expectLastAction(want state.Action, check string) error {
	snap, err := h.Observer.Snapshot()
	if err != nil {
		return err
	}

	sentinel, path := snap.Registered, h.Observer.Paths().Registered
	if want == state.ActionUnregister {
		sentinel, path = snap.Unregistered, h.Observer.Paths().Unregistered
	}
	if !sentinel.Present {
		return failf(check, "%s was not created", path)
	}
	got := snap.LastAction()
	if got == state.ActionAmbiguous {
		return failf("sentinel-order-ambiguous", "%s and %s have the same modification time %s",
			h.Observer.Paths().Registered, h.Observer.Paths().Unregistered, snap.Registered.ModTime.Format(time.RFC3339Nano))
	}
	if got != want {
		return failf(check, "last recorded action is %s, expected %s", got, want)
	}
	return nil
}

// Notes are per-scenario observations kept in the report
type Notes map[string]string

// Set records an observation
func (n Notes) Set(key, value string) {
	n[key] = value
}
