// ABOUTME: Per-scenario setup and teardown for a real agent installation
// ABOUTME: Backs up the agent config, unregisters leftovers and checks subscription-manager
package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
)

// ConfigFixture restores the agent to the state it had before a scenario
type ConfigFixture struct {
	client  *Client
	backup  []byte
	existed bool
}

// NewConfigFixture creates a fixture for the given client
func NewConfigFixture(c *Client) *ConfigFixture {
	return &ConfigFixture{client: c}
}

// Setup snapshots the agent configuration file
func (f *ConfigFixture) Setup(ctx context.Context) error {
	data, err := os.ReadFile(f.client.ConfigPath())
	switch {
	case err == nil:
		f.backup, f.existed = data, true
	case errors.Is(err, fs.ErrNotExist):
		f.backup, f.existed = nil, false
	default:
		return fmt.Errorf("failed to back up agent config: %w", err)
	}
	return nil
}

// Teardown unregisters the host if a scenario left it registered and restores the configuration
func (f *ConfigFixture) Teardown(ctx context.Context) error {
	var errs []error

	registered, err := f.client.IsRegistered(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to query registration: %w", err))
	} else if registered {
		if _, err := f.client.Unregister(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to unregister: %w", err))
		}
	}

	path := f.client.ConfigPath()
	if f.existed {
		if err := os.WriteFile(path, f.backup, ConfigFilePerms); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore agent config: %w", err))
		}
	} else if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove agent config: %w", err))
	}

	return errors.Join(errs...)
}

// CheckSubscriptionManager verifies the host is registered with subscription-manager,
// which certificate-based registration depends on
func CheckSubscriptionManager(ctx context.Context, binary string) error {
	if binary == "" {
		binary = "subscription-manager"
	}
	out, err := exec.CommandContext(ctx, binary, "identity").CombinedOutput()
	if err != nil {
		return fmt.Errorf("subscription-manager is not registered: %w: %s", err, out)
	}
	return nil
}
