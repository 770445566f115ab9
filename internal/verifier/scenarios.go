// ABOUTME: Registration lifecycle scenarios asserted against the agent
// ABOUTME: Each scenario starts unregistered and stops at the first violated invariant
package verifier

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/state"
)

// Scenario is one independent lifecycle check
type Scenario struct {
	Name        string
	Description string
	Requires    []domain.Capability
	Run         func(ctx context.Context, h *Harness, notes Notes) error
}

// Scenarios returns every scenario in execution order
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:        "machine-id-only-when-registered",
			Description: "machine-id is only present while the host is registered",
			Run:         machineIDOnlyWhenRegistered,
		},
		{
			Name:        "machine-id-stable-across-reregistration",
			Description: "machine-id across unregister and register follows the version regime",
			Run:         machineIDAcrossReregistration,
		},
		{
			Name:        "machine-id-changes-with-auth-method",
			Description: "switching from CERT to BASIC auth yields a different machine-id",
			Requires:    []domain.Capability{domain.CapabilityBasicAuth},
			Run:         machineIDChangesWithAuthMethod,
		},
		{
			Name:        "sentinels-track-last-action",
			Description: ".registered and .unregistered record the last lifecycle action",
			Run:         sentinelsTrackLastAction,
		},
		{
			Name:        "double-registration",
			Description: "--register on a registered host keeps machine-id and reports it",
			Run:         doubleRegistration,
		},
	}
}

// Lookup returns the named scenarios in execution order; no names selects all
func Lookup(names ...string) ([]Scenario, error) {
	all := Scenarios()
	if len(names) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []Scenario
	for _, s := range all {
		if wanted[s.Name] {
			selected = append(selected, s)
			delete(wanted, s.Name)
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for name := range wanted {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown scenario(s): %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

func machineIDOnlyWhenRegistered(ctx context.Context, h *Harness, notes Notes) error {
	if err := h.requireUnregistered(ctx); err != nil {
		return err
	}

	res, err := h.Agent.Run(ctx, false)
	if err != nil {
		return fmt.Errorf("run without registration: %w", err)
	}
	notes.Set("unregisteredExitCode", strconv.Itoa(res.ExitCode))
	if !strings.Contains(res.Stdout, domain.MessageNotRegistered) {
		return failf("not-registered-message", "stdout does not contain %q: %q", domain.MessageNotRegistered, res.Stdout)
	}
	if res.ExitCode == 0 {
		return failf("not-registered-exit-code", "expected a non-zero exit code when unregistered")
	}
	if err := h.expectMarker(false, "no-machine-id-after-unregistered-run"); err != nil {
		return err
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	if err := h.expectMarker(true, "machine-id-after-register"); err != nil {
		return err
	}

	if err := h.unregister(ctx); err != nil {
		return err
	}
	return h.expectMarker(false, "no-machine-id-after-unregister")
}

func machineIDAcrossReregistration(ctx context.Context, h *Harness, notes Notes) error {
	if err := h.requireUnregistered(ctx); err != nil {
		return err
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	before, err := h.captureMachineID(notes, "machineIdBefore")
	if err != nil {
		return err
	}

	if err := h.unregister(ctx); err != nil {
		return err
	}
	if err := h.expectMarker(false, "no-machine-id-after-unregister"); err != nil {
		return err
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	after, err := h.captureMachineID(notes, "machineIdAfter")
	if err != nil {
		return err
	}

	version, err := h.Agent.CoreVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read core version: %w", err)
	}
	regime := h.selector().Select(version)
	notes.Set("coreVersion", version.String())
	notes.Set("regime", regime.Name)

	if err := regime.Check(before, after); err != nil {
		return failf("machine-id-regime", "%v (core %s)", err, version)
	}
	return nil
}

func machineIDChangesWithAuthMethod(ctx context.Context, h *Harness, notes Notes) error {
	if h.Credentials.Empty() {
		return fmt.Errorf("BASIC auth scenario needs candlepin credentials")
	}
	if err := h.requireUnregistered(ctx); err != nil {
		return err
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	certID, err := h.captureMachineID(notes, "machineIdCert")
	if err != nil {
		return err
	}
	if err := h.unregister(ctx); err != nil {
		return err
	}

	cfg, err := h.Agent.Config()
	if err != nil {
		return fmt.Errorf("failed to load agent config: %w", err)
	}
	cfg.SetAutoConfig(false)
	cfg.SetAuthMethod(domain.AuthMethodBasic)
	cfg.SetCredentials(h.Credentials)
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save agent config: %w", err)
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	basicID, err := h.captureMachineID(notes, "machineIdBasic")
	if err != nil {
		return err
	}

	if basicID == certID {
		return failf("machine-id-per-auth-method", "machine-id is identical under CERT and BASIC auth")
	}
	return nil
}

func sentinelsTrackLastAction(ctx context.Context, h *Harness, notes Notes) error {
	if err := h.requireUnregistered(ctx); err != nil {
		return err
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	if err := h.expectLastAction(state.ActionRegister, "registered-sentinel"); err != nil {
		return err
	}

	if err := h.unregister(ctx); err != nil {
		return err
	}
	return h.expectLastAction(state.ActionUnregister, "unregistered-sentinel")
}

func doubleRegistration(ctx context.Context, h *Harness, notes Notes) error {
	if err := h.requireUnregistered(ctx); err != nil {
		return err
	}

	if _, err := h.register(ctx); err != nil {
		return err
	}
	before, err := h.captureMachineID(notes, "machineIdBefore")
	if err != nil {
		return err
	}

	res, err := h.Agent.Run(ctx, false, "--register")
	if err != nil {
		return fmt.Errorf("second register: %w", err)
	}
	notes.Set("secondRegisterExitCode", strconv.Itoa(res.ExitCode))
	if !strings.Contains(res.Stdout, domain.MessageAlreadyRegistered) {
		return failf("already-registered-message", "stdout does not contain %q: %q", domain.MessageAlreadyRegistered, res.Stdout)
	}
	if h.DoubleRegisterExit != ExitPolicyAny && res.ExitCode != 0 {
		return failf("already-registered-exit-code", "second --register exited with %d", res.ExitCode)
	}

	after, err := h.captureMachineID(notes, "machineIdAfter")
	if err != nil {
		return err
	}
	if after != before {
		return failf("machine-id-unchanged", "second --register replaced machine-id")
	}
	return nil
}
