// ABOUTME: Run command executing registration lifecycle scenarios against insights-client
// ABOUTME: Writes the run report and optional test-result attestation, exiting non-zero on failure
package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/gillisandrew/regverify/internal/attestation"
	"github.com/gillisandrew/regverify/internal/auth"
	"github.com/gillisandrew/regverify/internal/client"
	"github.com/gillisandrew/regverify/internal/cmd"
	"github.com/gillisandrew/regverify/internal/config"
	"github.com/gillisandrew/regverify/internal/report"
	"github.com/gillisandrew/regverify/internal/state"
	"github.com/gillisandrew/regverify/internal/verifier"
)

// RunOpts are the run command flags
type RunOpts struct {
	ReportPath      string
	ReportDir       string
	AttestationPath string
	URL             string
	FailFast        bool
	SkipPreflight   bool
}

func NewRunCommand(ctx *cmd.CommandContext) *cobra.Command {
	opts := &RunOpts{}

	command := &cobra.Command{
		Use:   "run [SCENARIO...]",
		Short: "Run registration lifecycle scenarios",
		Long: `Run registration lifecycle scenarios against the installed insights-client.
Each scenario starts from an unregistered host, drives the agent through
register and unregister, and asserts on machine-id and the sentinel files.
The agent configuration is restored and the host unregistered after each one.

Without arguments every scenario runs. The run report is always written;
the command exits non-zero when any scenario fails.

Example:
  regverify run
  regverify run double-registration --report out/report.json --attest out/report.intoto.json`,
		Run: func(command *cobra.Command, args []string) {
			passed, err := runCommand(command.Context(), ctx, args, opts)
			if err != nil {
				ctx.Logger.Error("Run failed", ctx.Logger.Args("error", err))
				os.Exit(1)
			}
			if !passed {
				os.Exit(1)
			}
		},
	}

	command.Flags().StringVar(&opts.ReportPath, "report", "", "Path of the JSON run report (default: generated name in --report-dir)")
	command.Flags().StringVar(&opts.ReportDir, "report-dir", ".", "Directory for generated report names")
	command.Flags().StringVar(&opts.AttestationPath, "attest", "", "Also write an in-toto test-result attestation to this path")
	command.Flags().StringVar(&opts.URL, "url", "", "Link to this run recorded in the attestation")
	command.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "Stop after the first failed scenario")
	command.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Do not check subscription-manager before running")

	return command
}

func runCommand(parent context.Context, ctx *cmd.CommandContext, names []string, opts *RunOpts) (bool, error) {
	if parent == nil {
		parent = context.Background()
	}
	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, settingsPath, err := ctx.LoadSettings()
	if err != nil {
		return false, fmt.Errorf("failed to load settings: %w", err)
	}
	ctx.Logger.Debug("Loaded settings", ctx.Logger.Args("path", settingsPath, "environment", cfg.Environment.Name))

	scenarios, err := verifier.Lookup(names...)
	if err != nil {
		return false, err
	}

	if cfg.Verification.SubscriptionManager && !opts.SkipPreflight {
		ctx.Logger.Debug("Checking subscription-manager registration")
		if err := client.CheckSubscriptionManager(runCtx, ""); err != nil {
			return false, fmt.Errorf("preflight failed: %w", err)
		}
	}

	agent := client.NewClient(cfg.ClientOpts(), ctx.Logger)
	harness := &verifier.Harness{
		Agent:              agent,
		Observer:           state.NewObserver(cfg.StatePaths()),
		Environment:        cfg.ResolvedEnvironment(),
		Credentials:        ctx.CredentialStorage().Resolve(auth.AccountCandlepin, cfg.Credentials()),
		DoubleRegisterExit: cfg.ExitPolicy(),
		Logger:             ctx.Logger,
	}

	suiteOpts := verifier.DefaultSuiteOpts().
		WithScenarios(scenarios).
		WithFixture(client.NewConfigFixture(agent)).
		WithFailFast(opts.FailFast || cfg.Verification.FailFast)

	result, err := verifier.NewSuite(harness, suiteOpts).Run(runCtx)
	if err != nil {
		return false, err
	}

	if err := cmd.RenderResult(os.Stdout, result); err != nil {
		return false, err
	}

	r := report.NewReport(result, metadata(ctx, cfg, settingsPath))
	reportOpts := report.DefaultReportOpts().WithDir(opts.ReportDir)
	if opts.ReportPath != "" {
		reportOpts = reportOpts.WithReportPath(opts.ReportPath)
	}
	reportPath, err := report.NewReportManager(reportOpts).SaveReport(r)
	if err != nil {
		return false, err
	}
	ctx.Logger.Info("Report written", ctx.Logger.Args("path", reportPath, "runId", r.RunID))

	if opts.AttestationPath != "" {
		if err := writeAttestation(r, reportPath, settingsPath, opts); err != nil {
			return false, err
		}
		ctx.Logger.Info("Attestation written", ctx.Logger.Args("path", opts.AttestationPath))
	}

	if result.Interrupted {
		return false, fmt.Errorf("run interrupted: %w", runCtx.Err())
	}
	return result.Passed(), nil
}

func metadata(ctx *cmd.CommandContext, cfg *config.Config, settingsPath string) report.Metadata {
	meta := report.Metadata{
		ToolVersion: ctx.Version,
		Settings:    settingsPath,
	}
	if host, err := os.Hostname(); err == nil {
		meta.Host = host
	}

	binary, err := exec.LookPath(cfg.Client.Binary)
	if err != nil {
		ctx.Logger.Warn("Could not locate agent binary for digest", ctx.Logger.Args("binary", cfg.Client.Binary, "error", err))
		return meta
	}
	meta.AgentBinary = binary
	if d, err := attestation.DigestFile(binary); err == nil {
		meta.AgentDigest = d.String()
	} else {
		ctx.Logger.Warn("Could not digest agent binary", ctx.Logger.Args("binary", binary, "error", err))
	}
	return meta
}

func writeAttestation(r *report.Report, reportPath, settingsPath string, opts *RunOpts) error {
	reportDigest, err := attestation.DigestFile(reportPath)
	if err != nil {
		return err
	}

	stmtOpts := attestation.DefaultStatementOpts().
		WithReport(filepath.Base(reportPath), reportDigest).
		WithURL(opts.URL)

	settingsDigest, err := attestation.DigestFile(settingsPath)
	switch {
	case err == nil:
		stmtOpts = stmtOpts.WithSettings(settingsPath, settingsDigest)
	case errors.Is(err, fs.ErrNotExist):
		stmtOpts = stmtOpts.WithSettings(settingsPath, digest.Digest(""))
	default:
		return err
	}

	stmt, err := attestation.NewStatement(r, stmtOpts)
	if err != nil {
		return fmt.Errorf("failed to build attestation: %w", err)
	}
	data, err := attestation.Marshal(stmt)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(opts.AttestationPath), 0755); err != nil {
		return fmt.Errorf("failed to create attestation directory: %w", err)
	}
	if err := os.WriteFile(opts.AttestationPath, data, report.DefaultReportPerms); err != nil {
		return fmt.Errorf("failed to write attestation: %w", err)
	}
	return nil
}
