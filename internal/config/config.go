// ABOUTME: Harness settings for regverify loaded from TOML with environment overrides
// ABOUTME: Resolves the target environment profile, agent paths and verification policy
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gillisandrew/regverify/internal/client"
	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/state"
	"github.com/gillisandrew/regverify/internal/verifier"
)

const (
	SettingsFileName     = "settings.toml"
	SettingsDirName      = "regverify"
	DefaultSettingsPerms = 0600
	CurrentVersion       = "1"
)

// Environment variables that override the settings file
const (
	EnvEnvironment       = "REGVERIFY_ENVIRONMENT"
	EnvCandlepinUsername = "REGVERIFY_CANDLEPIN_USERNAME"
	EnvCandlepinPassword = "REGVERIFY_CANDLEPIN_PASSWORD"
	EnvClientBinary      = "REGVERIFY_CLIENT_BINARY"
	EnvClientConfig      = "REGVERIFY_CLIENT_CONFIG"
	EnvStateDir          = "REGVERIFY_STATE_DIR"
)

// Capabilities of the deployments the agent is commonly pointed at
var profiles = map[string][]domain.Capability{
	"prod":      {domain.CapabilityBasicAuth},
	"stage":     {domain.CapabilityBasicAuth},
	"satellite": {},
}

// ConfigOpts configures how settings are loaded
type ConfigOpts struct {
	// Override settings file path (default: user config dir)
	ConfigPath string

	// Whether to write default settings if none exist
	CreateIfMissing bool

	// Apply REGVERIFY_* environment overrides
	ApplyEnv bool
}

// DefaultConfigOpts returns default settings loading options
func DefaultConfigOpts() *ConfigOpts {
	return &ConfigOpts{
		ApplyEnv: true,
	}
}

// WithConfigPath sets a custom settings file path
func (opts *ConfigOpts) WithConfigPath(path string) *ConfigOpts {
	opts.ConfigPath = path
	return opts
}

// WithCreateIfMissing controls whether to create default settings when missing
func (opts *ConfigOpts) WithCreateIfMissing(create bool) *ConfigOpts {
	opts.CreateIfMissing = create
	return opts
}

// WithApplyEnv controls whether environment variables override the file
func (opts *ConfigOpts) WithApplyEnv(apply bool) *ConfigOpts {
	opts.ApplyEnv = apply
	return opts
}

// ConfigManager handles settings loading
type ConfigManager struct {
	opts *ConfigOpts
}

// NewConfigManager creates a settings manager with the given options
func NewConfigManager(opts *ConfigOpts) *ConfigManager {
	if opts == nil {
		opts = DefaultConfigOpts()
	}
	return &ConfigManager{opts: opts}
}

type Config struct {
	Version string `toml:"version"`

	Environment  EnvironmentConfig  `toml:"environment"`
	Client       ClientConfig       `toml:"client"`
	Candlepin    CandlepinConfig    `toml:"candlepin"`
	Verification VerificationConfig `toml:"verification"`
}

type EnvironmentConfig struct {
	Name string `toml:"name"`
	// Overrides the profile's capabilities when set
	Capabilities []string `toml:"capabilities,omitempty"`
}

type ClientConfig struct {
	Binary     string   `toml:"binary"`
	ConfigPath string   `toml:"config_path"`
	StateDir   string   `toml:"state_dir"`
	Timeout    Duration `toml:"timeout"`
}

type CandlepinConfig struct {
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
}

type VerificationConfig struct {
	DoubleRegisterExit  string `toml:"double_register_exit"`
	FailFast            bool   `toml:"fail_fast"`
	SubscriptionManager bool   `toml:"subscription_manager_preflight"`
}

// Duration is a time.Duration written as a Go duration string
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Environment: EnvironmentConfig{
			Name: "prod",
		},
		Client: ClientConfig{
			Binary:     client.DefaultBinary,
			ConfigPath: client.DefaultConfigPath,
			StateDir:   state.DefaultStateDir,
			Timeout:    Duration(client.DefaultTimeout),
		},
		Verification: VerificationConfig{
			DoubleRegisterExit:  string(verifier.ExitPolicyZero),
			SubscriptionManager: true,
		},
	}
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("settings version is required")
	}
	if c.Environment.Name == "" {
		return fmt.Errorf("environment name is required")
	}
	if _, known := profiles[c.Environment.Name]; !known && c.Environment.Capabilities == nil {
		return fmt.Errorf("unknown environment %q needs explicit capabilities", c.Environment.Name)
	}
	if c.Client.Binary == "" {
		return fmt.Errorf("client binary is required")
	}
	if c.Client.ConfigPath == "" {
		return fmt.Errorf("client config_path is required")
	}
	if c.Client.StateDir == "" {
		return fmt.Errorf("client state_dir is required")
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be positive")
	}
	if _, err := verifier.ParseExitPolicy(c.Verification.DoubleRegisterExit); err != nil {
		return err
	}
	return nil
}

// ResolvedEnvironment returns the environment with its capabilities
func (c *Config) ResolvedEnvironment() domain.Environment {
	env := domain.Environment{Name: c.Environment.Name}
	if c.Environment.Capabilities != nil {
		for _, capability := range c.Environment.Capabilities {
			env.Capabilities = append(env.Capabilities, domain.Capability(capability))
		}
		return env
	}
	env.Capabilities = append(env.Capabilities, profiles[c.Environment.Name]...)
	return env
}

// Credentials returns the candlepin credentials from settings
func (c *Config) Credentials() domain.Credentials {
	return domain.Credentials{Username: c.Candlepin.Username, Password: c.Candlepin.Password}
}

// ExitPolicy returns the validated double-register exit policy
func (c *Config) ExitPolicy() verifier.ExitPolicy {
	policy, err := verifier.ParseExitPolicy(c.Verification.DoubleRegisterExit)
	if err != nil {
		return verifier.ExitPolicyZero
	}
	return policy
}

// ClientOpts builds agent client options from settings
func (c *Config) ClientOpts() *client.ClientOpts {
	return client.DefaultClientOpts().
		WithBinary(c.Client.Binary).
		WithConfigPath(c.Client.ConfigPath).
		WithTimeout(time.Duration(c.Client.Timeout))
}

// StatePaths returns the agent files under the configured state directory
func (c *Config) StatePaths() state.Paths {
	return state.PathsUnder(c.Client.StateDir)
}

// ApplyEnv overrides settings from REGVERIFY_* variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvEnvironment); v != "" {
		if v != c.Environment.Name {
			c.Environment.Capabilities = nil
		}
		c.Environment.Name = v
	}
	if v := os.Getenv(EnvCandlepinUsername); v != "" {
		c.Candlepin.Username = v
	}
	if v := os.Getenv(EnvCandlepinPassword); v != "" {
		c.Candlepin.Password = v
	}
	if v := os.Getenv(EnvClientBinary); v != "" {
		c.Client.Binary = v
	}
	if v := os.Getenv(EnvClientConfig); v != "" {
		c.Client.ConfigPath = v
	}
	if v := os.Getenv(EnvStateDir); v != "" {
		c.Client.StateDir = v
	}
}

// DefaultConfigPath returns the settings path under the user config directory
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(dir, SettingsDirName, SettingsFileName), nil
}

// Profiles returns the names of the known environment profiles
func Profiles() []string {
	return []string{"prod", "satellite", "stage"}
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	return config, nil
}

func SaveConfig(config *Config, configPath string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(configPath, data, DefaultSettingsPerms); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// LoadConfig loads settings using the configured options. A missing file
// yields defaults unless CreateIfMissing is set, in which case they are written.
func (cm *ConfigManager) LoadConfig() (*Config, string, error) {
	configPath := cm.opts.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
	}

	config, err := LoadConfig(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		config = DefaultConfig()
		if cm.opts.CreateIfMissing {
			if err := SaveConfig(config, configPath); err != nil {
				return nil, "", fmt.Errorf("failed to create default settings: %w", err)
			}
		}
	case err != nil:
		return nil, "", fmt.Errorf("failed to load settings from %s: %w", configPath, err)
	}

	if cm.opts.ApplyEnv {
		config.ApplyEnv()
	}

	if err := config.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid settings in %s: %w", configPath, err)
	}

	return config, configPath, nil
}

// CapabilityList renders the resolved capabilities for display
func (c *Config) CapabilityList() string {
	env := c.ResolvedEnvironment()
	if len(env.Capabilities) == 0 {
		return "none"
	}
	names := make([]string, len(env.Capabilities))
	for i, capability := range env.Capabilities {
		names[i] = string(capability)
	}
	return strings.Join(names, ", ")
}
