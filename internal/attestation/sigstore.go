// ABOUTME: Sigstore bundle verification for signed test-result attestations
// ABOUTME: Checks the signature, signer identity and that the signed statement names the report
package attestation

import (
	"encoding/hex"
	"fmt"

	intoto "github.com/in-toto/attestation/go/v1"
	"github.com/opencontainers/go-digest"
	"github.com/sigstore/sigstore-go/pkg/bundle"
	"github.com/sigstore/sigstore-go/pkg/fulcio/certificate"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/verify"
)

const (
	// Media type of a Sigstore bundle layer
	BundleMediaType = "application/vnd.dev.sigstore.bundle.v0.3+json"

	// Issuer of GitHub Actions workload identities
	GitHubActionsIssuer = "https://token.actions.githubusercontent.com"
)

// BundleOpts configures signer identity and trust roots for bundle verification
type BundleOpts struct {
	// Regular expression the certificate SAN must match
	IdentityRegexp string

	// Exact OIDC issuer of the signing certificate
	Issuer string

	// Local trusted_root.json (default: fetch the public-good root via TUF)
	TrustedRootPath string
}

// DefaultBundleOpts expects bundles signed from GitHub Actions
func DefaultBundleOpts() *BundleOpts {
	return &BundleOpts{
		Issuer: GitHubActionsIssuer,
	}
}

// WithIdentity sets the expected signer SAN pattern and issuer
func (opts *BundleOpts) WithIdentity(identityRegexp, issuer string) *BundleOpts {
	opts.IdentityRegexp = identityRegexp
	if issuer != "" {
		opts.Issuer = issuer
	}
	return opts
}

// WithTrustedRoot verifies against a local trusted root instead of TUF
func (opts *BundleOpts) WithTrustedRoot(path string) *BundleOpts {
	opts.TrustedRootPath = path
	return opts
}

func (opts *BundleOpts) validate() error {
	if opts.IdentityRegexp == "" {
		return fmt.Errorf("a certificate identity is required to verify a signed attestation")
	}
	if opts.Issuer == "" {
		return fmt.Errorf("a certificate OIDC issuer is required to verify a signed attestation")
	}
	return nil
}

// VerifyBundle verifies a Sigstore bundle whose statement must name reportDigest
// and returns the signed statement with its predicate
func VerifyBundle(bundlePath string, reportDigest digest.Digest, opts *BundleOpts) (*intoto.Statement, *TestResult, error) {
	if opts == nil {
		opts = DefaultBundleOpts()
	}
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	if err := reportDigest.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid report digest: %w", err)
	}

	b, err := bundle.LoadJSONFromPath(bundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sigstore bundle: %w", err)
	}

	verifier, err := newSigstoreVerifier(opts)
	if err != nil {
		return nil, nil, err
	}

	policy, err := bundlePolicy(reportDigest, opts)
	if err != nil {
		return nil, nil, err
	}

	// Validates the signature, certificate chain, SCTs and transparency log entry,
	// and that a statement subject carries the report digest
	if _, err := verifier.Verify(b, policy); err != nil {
		return nil, nil, fmt.Errorf("sigstore bundle verification failed: %w", err)
	}

	envelope, err := b.Envelope()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract envelope: %w", err)
	}
	stmt, err := envelope.Statement()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract statement: %w", err)
	}

	return checkStatement(stmt)
}

func bundlePolicy(reportDigest digest.Digest, opts *BundleOpts) (verify.PolicyBuilder, error) {
	digestBytes, err := hex.DecodeString(reportDigest.Encoded())
	if err != nil {
		return verify.PolicyBuilder{}, fmt.Errorf("invalid report digest: %w", err)
	}

	sanMatcher, err := verify.NewSANMatcher("", opts.IdentityRegexp)
	if err != nil {
		return verify.PolicyBuilder{}, fmt.Errorf("failed to create SAN matcher: %w", err)
	}
	issuerMatcher, err := verify.NewIssuerMatcher(opts.Issuer, "")
	if err != nil {
		return verify.PolicyBuilder{}, fmt.Errorf("failed to create issuer matcher: %w", err)
	}
	identity, err := verify.NewCertificateIdentity(sanMatcher, issuerMatcher, certificate.Extensions{})
	if err != nil {
		return verify.PolicyBuilder{}, fmt.Errorf("failed to create certificate identity: %w", err)
	}

	return verify.NewPolicy(
		verify.WithArtifactDigest(reportDigest.Algorithm().String(), digestBytes),
		verify.WithCertificateIdentity(identity),
	), nil
}

func newSigstoreVerifier(opts *BundleOpts) (*verify.Verifier, error) {
	var (
		trustedMaterial root.TrustedMaterial
		err             error
	)
	if opts.TrustedRootPath != "" {
		trustedMaterial, err = root.NewTrustedRootFromPath(opts.TrustedRootPath)
	} else {
		trustedMaterial, err = root.FetchTrustedRoot()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sigstore trusted root: %w", err)
	}

	verifier, err := verify.NewVerifier(trustedMaterial,
		verify.WithSignedCertificateTimestamps(1),
		verify.WithTransparencyLog(1),
		verify.WithIntegratedTimestamps(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sigstore verifier: %w", err)
	}
	return verifier, nil
}

// checkStatement applies the unsigned statement checks to a signed statement
func checkStatement(stmt *intoto.Statement) (*intoto.Statement, *TestResult, error) {
	if err := stmt.Validate(); err != nil {
		return nil, nil, fmt.Errorf("in-toto validation failed: %w", err)
	}
	if stmt.GetPredicateType() != TestResultPredicateV0 {
		return nil, nil, fmt.Errorf("unexpected predicate type: %s", stmt.GetPredicateType())
	}
	tr, err := decodePredicate(stmt.GetPredicate())
	if err != nil {
		return nil, nil, err
	}
	return stmt, tr, nil
}
