package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/verifier"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Version != CurrentVersion {
		t.Errorf("expected version '%s', got '%s'", CurrentVersion, config.Version)
	}

	if config.Client.Binary != "insights-client" {
		t.Errorf("expected binary 'insights-client', got '%s'", config.Client.Binary)
	}

	if time.Duration(config.Client.Timeout) != 5*time.Minute {
		t.Errorf("expected 5m timeout, got %s", time.Duration(config.Client.Timeout))
	}

	if config.ExitPolicy() != verifier.ExitPolicyZero {
		t.Errorf("expected exit policy 'zero', got '%s'", config.ExitPolicy())
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:     "missing version",
			mutate:   func(c *Config) { c.Version = "" },
			errorMsg: "settings version is required",
		},
		{
			name:     "unknown environment without capabilities",
			mutate:   func(c *Config) { c.Environment.Name = "qa" },
			errorMsg: "needs explicit capabilities",
		},
		{
			name: "unknown environment with capabilities",
			mutate: func(c *Config) {
				c.Environment.Name = "qa"
				c.Environment.Capabilities = []string{}
			},
		},
		{
			name:     "missing binary",
			mutate:   func(c *Config) { c.Client.Binary = "" },
			errorMsg: "client binary is required",
		},
		{
			name:     "missing config path",
			mutate:   func(c *Config) { c.Client.ConfigPath = "" },
			errorMsg: "client config_path is required",
		},
		{
			name:     "zero timeout",
			mutate:   func(c *Config) { c.Client.Timeout = 0 },
			errorMsg: "timeout must be positive",
		},
		{
			name:     "invalid exit policy",
			mutate:   func(c *Config) { c.Verification.DoubleRegisterExit = "nonzero" },
			errorMsg: "invalid double-register exit policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.errorMsg != "" {
				if err == nil {
					t.Errorf("expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}

func TestResolvedEnvironment(t *testing.T) {
	tests := []struct {
		name         string
		env          string
		capabilities []string
		basicAuth    bool
	}{
		{name: "prod profile", env: "prod", basicAuth: true},
		{name: "stage profile", env: "stage", basicAuth: true},
		{name: "satellite profile", env: "satellite", basicAuth: false},
		{name: "explicit override", env: "satellite", capabilities: []string{"basic-auth"}, basicAuth: true},
		{name: "explicit empty", env: "prod", capabilities: []string{}, basicAuth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Environment.Name = tt.env
			config.Environment.Capabilities = tt.capabilities

			env := config.ResolvedEnvironment()
			if env.Name != tt.env {
				t.Errorf("expected environment %s, got %s", tt.env, env.Name)
			}
			if got := env.Has(domain.CapabilityBasicAuth); got != tt.basicAuth {
				t.Errorf("expected basic-auth=%v, got %v", tt.basicAuth, got)
			}
		})
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", SettingsFileName)

	config := DefaultConfig()
	config.Environment.Name = "stage"
	config.Client.StateDir = "/tmp/insights"
	config.Client.Timeout = Duration(90 * time.Second)
	config.Verification.DoubleRegisterExit = "any"
	config.Verification.FailFast = true

	if err := SaveConfig(config, configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("settings file was not created: %v", err)
	}
	if info.Mode().Perm() != DefaultSettingsPerms {
		t.Errorf("expected perms %o, got %o", DefaultSettingsPerms, info.Mode().Perm())
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read settings: %v", err)
	}
	if !strings.Contains(string(data), "1m30s") {
		t.Errorf("expected duration string in settings file, got:\n%s", data)
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Environment.Name != "stage" || loaded.Client.StateDir != "/tmp/insights" {
		t.Errorf("saved config doesn't match original: %+v", loaded)
	}
	if time.Duration(loaded.Client.Timeout) != 90*time.Second {
		t.Errorf("expected 1m30s timeout, got %s", time.Duration(loaded.Client.Timeout))
	}
	if loaded.ExitPolicy() != verifier.ExitPolicyAny || !loaded.Verification.FailFast {
		t.Errorf("verification settings not preserved: %+v", loaded.Verification)
	}

	if err := SaveConfig(&Config{}, configPath); err == nil {
		t.Errorf("expected error when saving invalid config")
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), SettingsFileName)
	content := `
[environment]
name = "satellite"

[client]
timeout = "30s"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}

	if config.Environment.Name != "satellite" {
		t.Errorf("expected satellite, got %s", config.Environment.Name)
	}
	if config.Client.Binary != "insights-client" {
		t.Errorf("expected default binary to survive a partial file, got %s", config.Client.Binary)
	}
	if time.Duration(config.Client.Timeout) != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", time.Duration(config.Client.Timeout))
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{name: "not toml", content: "this is = = not toml"},
		{name: "bad duration", content: "[client]\ntimeout = \"soon\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, strings.ReplaceAll(tt.name, " ", "-")+".toml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0600); err != nil {
				t.Fatalf("failed to write settings: %v", err)
			}
			if _, err := LoadConfig(configPath); err == nil {
				t.Errorf("expected parse error")
			}
		})
	}
}

func TestConfigManager(t *testing.T) {
	t.Run("missing file yields defaults without writing", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), SettingsFileName)
		manager := NewConfigManager(DefaultConfigOpts().WithConfigPath(configPath).WithApplyEnv(false))

		config, path, err := manager.LoadConfig()
		if err != nil {
			t.Fatalf("expected defaults, got: %v", err)
		}
		if path != configPath {
			t.Errorf("expected path %s, got %s", configPath, path)
		}
		if config.Environment.Name != "prod" {
			t.Errorf("expected default environment, got %s", config.Environment.Name)
		}
		if _, err := os.Stat(configPath); !os.IsNotExist(err) {
			t.Errorf("settings file should not have been created")
		}
	})

	t.Run("create if missing", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), SettingsFileName)
		manager := NewConfigManager(DefaultConfigOpts().
			WithConfigPath(configPath).
			WithCreateIfMissing(true).
			WithApplyEnv(false))

		if _, _, err := manager.LoadConfig(); err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if _, err := os.Stat(configPath); err != nil {
			t.Errorf("expected settings file to be created: %v", err)
		}
	})

	t.Run("invalid file is an error", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), SettingsFileName)
		if err := os.WriteFile(configPath, []byte("[verification]\ndouble_register_exit = \"sometimes\"\n"), 0600); err != nil {
			t.Fatalf("failed to write settings: %v", err)
		}

		manager := NewConfigManager(DefaultConfigOpts().WithConfigPath(configPath).WithApplyEnv(false))
		if _, _, err := manager.LoadConfig(); err == nil {
			t.Errorf("expected validation error")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), SettingsFileName)
	config := DefaultConfig()
	config.Environment.Capabilities = []string{"basic-auth"}
	if err := SaveConfig(config, configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	t.Setenv(EnvEnvironment, "satellite")
	t.Setenv(EnvCandlepinUsername, "env-user")
	t.Setenv(EnvCandlepinPassword, "env-pass")
	t.Setenv(EnvClientBinary, "/opt/bin/insights-client")
	t.Setenv(EnvStateDir, "/var/tmp/insights")
	t.Setenv(EnvClientConfig, "/var/tmp/insights/insights-client.conf")

	loaded, _, err := NewConfigManager(DefaultConfigOpts().WithConfigPath(configPath)).LoadConfig()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	env := loaded.ResolvedEnvironment()
	if env.Name != "satellite" {
		t.Errorf("expected satellite, got %s", env.Name)
	}
	if env.Has(domain.CapabilityBasicAuth) {
		t.Errorf("switching environment should drop capabilities set for the previous one")
	}
	if creds := loaded.Credentials(); creds.Username != "env-user" || creds.Password != "env-pass" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if loaded.ClientOpts().Binary != "/opt/bin/insights-client" {
		t.Errorf("expected binary override, got %s", loaded.ClientOpts().Binary)
	}
	if loaded.ClientOpts().ConfigPath != "/var/tmp/insights/insights-client.conf" {
		t.Errorf("expected config path override, got %s", loaded.ClientOpts().ConfigPath)
	}
	if loaded.StatePaths().MachineID != "/var/tmp/insights/machine-id" {
		t.Errorf("unexpected machine-id path %s", loaded.StatePaths().MachineID)
	}
}

func TestCapabilityList(t *testing.T) {
	config := DefaultConfig()
	if got := config.CapabilityList(); got != "basic-auth" {
		t.Errorf("expected 'basic-auth', got '%s'", got)
	}

	config.Environment.Name = "satellite"
	if got := config.CapabilityList(); got != "none" {
		t.Errorf("expected 'none', got '%s'", got)
	}
}
