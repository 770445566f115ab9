// ABOUTME: Shared command context structure for CLI commands
// ABOUTME: Contains global configuration that can be passed to all commands
package cmd

import (
	"github.com/pterm/pterm"

	"github.com/gillisandrew/regverify/internal/auth"
	"github.com/gillisandrew/regverify/internal/config"
)

// CommandContext holds global configuration that can be passed to commands
type CommandContext struct {
	SettingsPath string
	Version      string
	Logger       *pterm.Logger

	// Credential store (default: keychain with file fallback)
	Storage *auth.Storage
}

// LoadSettings loads harness settings honoring the --settings flag
func (c *CommandContext) LoadSettings() (*config.Config, string, error) {
	configOpts := config.DefaultConfigOpts()
	if c.SettingsPath != "" {
		configOpts = configOpts.WithConfigPath(c.SettingsPath)
	}
	return config.NewConfigManager(configOpts).LoadConfig()
}

// CredentialStorage returns the configured credential store
func (c *CommandContext) CredentialStorage() *auth.Storage {
	if c.Storage == nil {
		c.Storage = auth.NewStorage(auth.DefaultStorageOpts())
	}
	return c.Storage
}
