// ABOUTME: Process wrapper around the insights-client binary
// ABOUTME: Implements domain.Agent by invoking the CLI and capturing exit code and output
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/pterm/pterm"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/policy"
)

const (
	DefaultBinary     = "insights-client"
	DefaultConfigPath = "/etc/insights-client/insights-client.conf"
	DefaultTimeout    = 5 * time.Minute

	// grace period for output pipes held open by grandchildren after a kill
	waitDelay = 2 * time.Second
)

// ClientOpts configures how the agent binary is invoked
type ClientOpts struct {
	// Binary name or path (default: "insights-client")
	Binary string

	// Agent configuration file (default: /etc/insights-client/insights-client.conf)
	ConfigPath string

	// Per-invocation timeout (default: 5m)
	Timeout time.Duration

	// Extra environment for the child process, appended to the inherited one
	Env []string
}

// DefaultClientOpts returns options for an installed agent
func DefaultClientOpts() *ClientOpts {
	return &ClientOpts{
		Binary:     DefaultBinary,
		ConfigPath: DefaultConfigPath,
		Timeout:    DefaultTimeout,
	}
}

// WithBinary sets the agent binary
func (opts *ClientOpts) WithBinary(binary string) *ClientOpts {
	opts.Binary = binary
	return opts
}

// WithConfigPath sets the agent configuration file
func (opts *ClientOpts) WithConfigPath(path string) *ClientOpts {
	opts.ConfigPath = path
	return opts
}

// WithTimeout sets the per-invocation timeout
func (opts *ClientOpts) WithTimeout(timeout time.Duration) *ClientOpts {
	opts.Timeout = timeout
	return opts
}

// WithEnv appends environment entries for the child process
func (opts *ClientOpts) WithEnv(env ...string) *ClientOpts {
	opts.Env = append(opts.Env, env...)
	return opts
}

// Client drives the insights-client binary
type Client struct {
	opts   *ClientOpts
	logger *pterm.Logger
}

// NewClient creates a client; a nil logger disables logging
func NewClient(opts *ClientOpts, logger *pterm.Logger) *Client {
	if opts == nil {
		opts = DefaultClientOpts()
	}
	if logger == nil {
		logger = pterm.DefaultLogger.WithLevel(pterm.LogLevelDisabled)
	}
	return &Client{opts: opts, logger: logger}
}

// Run invokes the agent. A process that cannot be started is always an error;
// a non-zero exit is an error only when check is set.
func (c *Client) Run(ctx context.Context, check bool, args ...string) (*domain.RunResult, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.opts.Binary, args...)
	cmd.WaitDelay = waitDelay
	if len(c.opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.opts.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &domain.RunResult{
		Args:   args,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		result.ExitCode = exitErr.ExitCode()
	case ctx.Err() != nil:
		return result, fmt.Errorf("insights-client %s: %w", strings.Join(args, " "), ctx.Err())
	default:
		return nil, fmt.Errorf("failed to run %s: %w", c.opts.Binary, err)
	}

	c.logger.Debug("insights-client finished", c.logger.Args(
		"args", strings.Join(args, " "),
		"exitCode", result.ExitCode,
		"elapsed", time.Since(start).Round(time.Millisecond),
	))

	if check && result.ExitCode != 0 {
		return result, &domain.ExitError{Result: result}
	}
	return result, nil
}

// Register runs --register and requires success
func (c *Client) Register(ctx context.Context) (*domain.RunResult, error) {
	return c.Run(ctx, true, "--register")
}

// Unregister runs --unregister and requires success
func (c *Client) Unregister(ctx context.Context) (*domain.RunResult, error) {
	return c.Run(ctx, true, "--unregister")
}

// IsRegistered asks the agent via --status; exit 0 means registered, 1 means not
func (c *Client) IsRegistered(ctx context.Context) (bool, error) {
	res, err := c.Run(ctx, false, "--status")
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, &domain.ExitError{Result: res}
	}
}

// CoreVersion reads the Core version reported by --version
func (c *Client) CoreVersion(ctx context.Context) (semver.Version, error) {
	res, err := c.Run(ctx, true, "--version")
	if err != nil {
		return semver.Version{}, err
	}
	return ParseCoreVersion(res.Stdout + "\n" + res.Stderr)
}

// Config loads the agent configuration file
func (c *Client) Config() (domain.AgentConfig, error) {
	return LoadConfig(c.opts.ConfigPath)
}

// ConfigPath returns the agent configuration file in use
func (c *Client) ConfigPath() string {
	return c.opts.ConfigPath
}

// ParseCoreVersion extracts the "Core: x.y.z" line of --version output
func ParseCoreVersion(output string) (semver.Version, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "Core:"); ok {
			return policy.ParseVersion(value)
		}
	}
	return semver.Version{}, fmt.Errorf("no core version in output: %q", strings.TrimSpace(output))
}
