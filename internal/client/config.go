// ABOUTME: INI-backed view of insights-client.conf
// ABOUTME: Exposes the auth settings scenarios mutate and persists them on Save
package client

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/gillisandrew/regverify/internal/domain"
)

const (
	ConfigSection   = "insights-client"
	ConfigFilePerms = 0600
)

// Config is the agent configuration file
type Config struct {
	path string
	file *ini.File
}

// LoadConfig reads path; a missing file yields an empty configuration
func LoadConfig(path string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agent config %s: %w", path, err)
	}
	return &Config{path: path, file: file}, nil
}

func (c *Config) section() *ini.Section {
	return c.file.Section(ConfigSection)
}

// Path returns the file backing this configuration
func (c *Config) Path() string {
	return c.path
}

// AutoConfig reports auto_config, which defaults to true in the agent
func (c *Config) AutoConfig() bool {
	return c.section().Key("auto_config").MustBool(true)
}

// SetAutoConfig sets auto_config
func (c *Config) SetAutoConfig(enabled bool) {
	c.section().Key("auto_config").SetValue(pythonBool(enabled))
}

// AuthMethod returns authmethod, falling back to CERT when unset or unknown
func (c *Config) AuthMethod() domain.AuthMethod {
	method, err := domain.ParseAuthMethod(c.section().Key("authmethod").String())
	if err != nil {
		return domain.AuthMethodCert
	}
	return method
}

// SetAuthMethod sets authmethod
func (c *Config) SetAuthMethod(method domain.AuthMethod) {
	c.section().Key("authmethod").SetValue(string(method))
}

// SetCredentials sets username and password
func (c *Config) SetCredentials(creds domain.Credentials) {
	c.section().Key("username").SetValue(creds.Username)
	c.section().Key("password").SetValue(creds.Password)
}

// Username returns the configured username
func (c *Config) Username() string {
	return c.section().Key("username").String()
}

// Save writes the configuration back to its file
func (c *Config) Save() error {
	var buf bytes.Buffer
	if _, err := c.file.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(c.path, buf.Bytes(), ConfigFilePerms); err != nil {
		return fmt.Errorf("failed to write agent config: %w", err)
	}

	return nil
}

// The agent parses its config with Python's configparser
func pythonBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
