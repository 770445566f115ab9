// ABOUTME: Report command for inspecting saved run reports and publishing them
// ABOUTME: Verifies attestation subjects and Sigstore bundles against the report bytes
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"oras.land/oras-go/v2/registry"

	"github.com/gillisandrew/regverify/internal/attestation"
	"github.com/gillisandrew/regverify/internal/auth"
	"github.com/gillisandrew/regverify/internal/cmd"
	"github.com/gillisandrew/regverify/internal/oras"
	"github.com/gillisandrew/regverify/internal/report"
)

func NewReportCommand(ctx *cmd.CommandContext) *cobra.Command {
	command := &cobra.Command{
		Use:   "report",
		Short: "Inspect and publish run reports",
	}

	command.AddCommand(newShowCommand(ctx))
	command.AddCommand(newPushCommand(ctx))
	command.AddCommand(newPullCommand(ctx))

	return command
}

// signingFlags names the signer a Sigstore bundle must come from
type signingFlags struct {
	identity    string
	issuer      string
	trustedRoot string
}

func addSigningFlags(command *cobra.Command, f *signingFlags) {
	command.Flags().StringVar(&f.identity, "cert-identity", "", "Regular expression the bundle signing certificate SAN must match")
	command.Flags().StringVar(&f.issuer, "cert-oidc-issuer", attestation.GitHubActionsIssuer, "OIDC issuer of the bundle signing certificate")
	command.Flags().StringVar(&f.trustedRoot, "trusted-root", "", "Sigstore trusted_root.json to verify against instead of the public-good instance")
}

func (f signingFlags) enabled() bool {
	return f.identity != ""
}

func (f signingFlags) opts() *attestation.BundleOpts {
	return attestation.DefaultBundleOpts().WithIdentity(f.identity, f.issuer).WithTrustedRoot(f.trustedRoot)
}

func newShowCommand(ctx *cmd.CommandContext) *cobra.Command {
	var (
		attestationPath string
		bundlePath      string
		signing         signingFlags
	)

	command := &cobra.Command{
		Use:   "show REPORT",
		Short: "Render a saved run report",
		Args:  cobra.ExactArgs(1),
		Example: `  regverify report show regverify-report-1a2b3c4d.json
  regverify report show out/report.json --attestation out/report.intoto.json
  regverify report show out/report.json --bundle out/report.sigstore.json \
    --cert-identity '^https://github.com/acme/insights-ci/'`,
		Run: func(command *cobra.Command, args []string) {
			if err := showReport(ctx, args[0], attestationPath, bundlePath, signing); err != nil {
				ctx.Logger.Error("Failed to show report", ctx.Logger.Args("report", args[0], "error", err))
				os.Exit(1)
			}
		},
	}

	command.Flags().StringVar(&attestationPath, "attestation", "", "Verify and summarize the test-result attestation for this report")
	command.Flags().StringVar(&bundlePath, "bundle", "", "Verify and summarize a Sigstore bundle signing this report")
	addSigningFlags(command, &signing)

	return command
}

func showReport(ctx *cmd.CommandContext, reportPath, attestationPath, bundlePath string, signing signingFlags) error {
	r, err := report.LoadReport(reportPath)
	if err != nil {
		return err
	}

	ctx.Logger.Info("Run report", ctx.Logger.Args(
		"runId", r.RunID,
		"generated", r.GeneratedAt.Format("2006-01-02 15:04:05"),
		"host", r.Metadata.Host,
		"toolVersion", r.Metadata.ToolVersion,
	))

	if err := cmd.RenderResult(os.Stdout, r.Result); err != nil {
		return err
	}

	if attestationPath != "" {
		summary, err := verifyAttestation(reportPath, attestationPath)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Print(summary)
	}

	if bundlePath != "" {
		if !signing.enabled() {
			return fmt.Errorf("--cert-identity is required with --bundle")
		}
		summary, err := verifySignedAttestation(reportPath, bundlePath, signing.opts())
		if err != nil {
			return err
		}
		ctx.Logger.Info("Signature verified", ctx.Logger.Args("bundle", bundlePath, "identity", signing.identity))
		fmt.Println()
		fmt.Print(summary)
	}
	return nil
}

// verifyAttestation checks the statement names the report bytes and returns its summary
func verifyAttestation(reportPath, attestationPath string) (string, error) {
	stmt, tr, err := attestation.LoadFile(attestationPath)
	if err != nil {
		return "", err
	}

	reportDigest, err := attestation.DigestFile(reportPath)
	if err != nil {
		return "", err
	}
	if err := attestation.ValidateSubjectMatch(stmt, reportDigest); err != nil {
		return "", fmt.Errorf("attestation does not cover %s: %w", reportPath, err)
	}

	return attestation.FormatTestResult(stmt, tr), nil
}

// verifySignedAttestation checks the bundle signature and that its statement names the report bytes
func verifySignedAttestation(reportPath, bundlePath string, opts *attestation.BundleOpts) (string, error) {
	reportDigest, err := attestation.DigestFile(reportPath)
	if err != nil {
		return "", err
	}

	stmt, tr, err := attestation.VerifyBundle(bundlePath, reportDigest, opts)
	if err != nil {
		return "", fmt.Errorf("bundle does not cover %s: %w", reportPath, err)
	}
	return attestation.FormatTestResult(stmt, tr), nil
}

func newPushCommand(ctx *cmd.CommandContext) *cobra.Command {
	var (
		attestationPath string
		bundlePath      string
		plainHTTP       bool
	)

	command := &cobra.Command{
		Use:   "push REPORT REFERENCE",
		Short: "Publish a run report to an OCI registry",
		Long: `Publish a run report, and optionally its attestation, as an OCI artifact.

The registry credential comes from 'regverify auth set --account registry'
when its host matches the reference registry. Otherwise the push is anonymous.`,
		Args:    cobra.ExactArgs(2),
		Example: `  regverify report push out/report.json quay.io/acme/regverify-runs:rhel9 --attestation out/report.intoto.json`,
		Run: func(command *cobra.Command, args []string) {
			result, err := pushReport(command.Context(), ctx, args[0], args[1], attestationPath, bundlePath, plainHTTP)
			if err != nil {
				ctx.Logger.Error("Failed to push report", ctx.Logger.Args("report", args[0], "reference", args[1], "error", err))
				os.Exit(1)
			}
			ctx.Logger.Info("Report pushed", ctx.Logger.Args("reference", result.Reference, "layers", len(result.Layers)))
		},
	}

	command.Flags().StringVar(&attestationPath, "attestation", "", "Attach the test-result attestation for this report")
	command.Flags().StringVar(&bundlePath, "bundle", "", "Attach a Sigstore bundle signing this report")
	command.Flags().BoolVar(&plainHTTP, "plain-http", false, "Use HTTP instead of HTTPS for the registry")

	return command
}

func pushReport(parent context.Context, ctx *cmd.CommandContext, reportPath, ref, attestationPath, bundlePath string, plainHTTP bool) (*oras.PushResult, error) {
	if parent == nil {
		parent = context.Background()
	}

	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	artifact, err := buildArtifact(reportPath, attestationPath, bundlePath)
	if err != nil {
		return nil, err
	}

	return oras.NewService(serviceOpts(ctx, parsed.Registry, plainHTTP)).Push(parent, ref, artifact)
}

func newPullCommand(ctx *cmd.CommandContext) *cobra.Command {
	var (
		outputDir string
		plainHTTP bool
		signing   signingFlags
	)

	command := &cobra.Command{
		Use:     "pull REFERENCE",
		Short:   "Download a published run report",
		Args:    cobra.ExactArgs(1),
		Example: `  regverify report pull quay.io/acme/regverify-runs:rhel9 --output runs/rhel9
  regverify report pull quay.io/acme/regverify-runs:rhel9 --cert-identity '^https://github.com/acme/insights-ci/'`,
		Run: func(command *cobra.Command, args []string) {
			if err := pullReport(command.Context(), ctx, args[0], outputDir, plainHTTP, signing); err != nil {
				ctx.Logger.Error("Failed to pull report", ctx.Logger.Args("reference", args[0], "error", err))
				os.Exit(1)
			}
		},
	}

	command.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to write the report files to")
	command.Flags().BoolVar(&plainHTTP, "plain-http", false, "Use HTTP instead of HTTPS for the registry")
	addSigningFlags(command, &signing)

	return command
}

func pullReport(parent context.Context, ctx *cmd.CommandContext, ref, outputDir string, plainHTTP bool, signing signingFlags) error {
	if parent == nil {
		parent = context.Background()
	}

	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return fmt.Errorf("invalid reference %q: %w", ref, err)
	}

	files, err := oras.NewService(serviceOpts(ctx, parsed.Registry, plainHTTP)).Pull(parent, ref, outputDir)
	if err != nil {
		return err
	}

	reportPath, attestationPath, bundlePath := classifyFiles(files)
	if reportPath == "" {
		return fmt.Errorf("no report found in %s", ref)
	}
	ctx.Logger.Info("Report pulled", ctx.Logger.Args("reference", ref, "report", reportPath, "attestation", attestationPath, "bundle", bundlePath))

	if attestationPath != "" {
		if _, err := verifyAttestation(reportPath, attestationPath); err != nil {
			return err
		}
		ctx.Logger.Info("Attestation covers report", ctx.Logger.Args("attestation", attestationPath))
	}

	switch {
	case signing.enabled() && bundlePath == "":
		return fmt.Errorf("no sigstore bundle found in %s", ref)
	case signing.enabled():
		if _, err := verifySignedAttestation(reportPath, bundlePath, signing.opts()); err != nil {
			return err
		}
		ctx.Logger.Info("Signature verified", ctx.Logger.Args("bundle", bundlePath, "identity", signing.identity))
	case bundlePath != "":
		ctx.Logger.Warn("Sigstore bundle not verified, pass --cert-identity to check the signer", ctx.Logger.Args("bundle", bundlePath))
	}
	return nil
}

// classifyFiles picks the report, attestation and bundle out of pulled layer files
func classifyFiles(files []string) (reportPath, attestationPath, bundlePath string) {
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".sigstore.json"):
			bundlePath = f
		case strings.HasSuffix(f, ".intoto.json"):
			attestationPath = f
		case strings.HasSuffix(f, ".json"):
			reportPath = f
		}
	}
	return reportPath, attestationPath, bundlePath
}

// serviceOpts uses the stored registry credential when it was saved for host
func serviceOpts(ctx *cmd.CommandContext, host string, plainHTTP bool) *oras.ServiceOpts {
	opts := oras.DefaultServiceOpts().WithPlainHTTP(plainHTTP)
	cred, err := ctx.CredentialStorage().Get(auth.AccountRegistry)
	if err != nil {
		return opts
	}
	if !hostMatches(cred.Host, host) {
		ctx.Logger.Debug("Stored registry credential is for another host", ctx.Logger.Args("host", cred.Host, "registry", host))
		return opts
	}
	return opts.WithCredential(host, cred.Username, cred.Secret)
}

// buildArtifact reads the report, attestation and bundle into artifact layers
func buildArtifact(reportPath, attestationPath, bundlePath string) (oras.Artifact, error) {
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return oras.Artifact{}, fmt.Errorf("failed to read report: %w", err)
	}
	r, err := report.ParseReport(data)
	if err != nil {
		return oras.Artifact{}, err
	}

	result := "failed"
	if r.Passed() {
		result = "passed"
	}

	artifact := oras.Artifact{
		Layers: []oras.Layer{
			{Name: filepath.Base(reportPath), MediaType: report.MediaType, Content: data},
		},
		Annotations: map[string]string{
			oras.AnnotationRunID:       r.RunID,
			oras.AnnotationResult:      result,
			oras.AnnotationCoreVersion: r.Result.CoreVersion,
		},
		Created: r.GeneratedAt,
	}

	if attestationPath != "" {
		if _, err := verifyAttestation(reportPath, attestationPath); err != nil {
			return oras.Artifact{}, err
		}
		stmt, err := os.ReadFile(attestationPath)
		if err != nil {
			return oras.Artifact{}, fmt.Errorf("failed to read attestation: %w", err)
		}
		artifact.Layers = append(artifact.Layers, oras.Layer{
			Name:      filepath.Base(attestationPath),
			MediaType: attestation.MediaType,
			Content:   stmt,
		})
	}

	if bundlePath != "" {
		if !strings.HasSuffix(bundlePath, ".sigstore.json") {
			return oras.Artifact{}, fmt.Errorf("bundle %s must be named *.sigstore.json", bundlePath)
		}
		b, err := os.ReadFile(bundlePath)
		if err != nil {
			return oras.Artifact{}, fmt.Errorf("failed to read sigstore bundle: %w", err)
		}
		artifact.Layers = append(artifact.Layers, oras.Layer{
			Name:      filepath.Base(bundlePath),
			MediaType: attestation.BundleMediaType,
			Content:   b,
		})
	}
	return artifact, nil
}

func hostMatches(stored, registryHost string) bool {
	if stored == "" {
		return false
	}
	stored = strings.TrimPrefix(strings.TrimPrefix(stored, "https://"), "http://")
	return strings.TrimSuffix(stored, "/") == registryHost
}
