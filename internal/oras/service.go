// ABOUTME: ORAS adapter - publishes suite reports and attestations as OCI artifacts
// ABOUTME: Packs layers into an in-memory store then copies the tagged manifest to a registry
package oras

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	// Artifact type of a pushed suite run
	ArtifactType = "application/vnd.regverify.run.v1"

	AnnotationRunID       = "io.github.gillisandrew.regverify.run-id"
	AnnotationResult      = "io.github.gillisandrew.regverify.result"
	AnnotationCoreVersion = "io.github.gillisandrew.regverify.core-version"

	DefaultTimeout = 2 * time.Minute
)

// Layer is one file of the artifact
type Layer struct {
	Name      string
	MediaType string
	Content   []byte
}

// Artifact is a report with its optional attestation
type Artifact struct {
	Layers      []Layer
	Annotations map[string]string
	Created     time.Time
}

// PushResult describes what was pushed
type PushResult struct {
	Reference string
	Manifest  ocispec.Descriptor
	Layers    []ocispec.Descriptor
}

// ServiceOpts configures registry access
type ServiceOpts struct {
	// Credential for the registry (default: anonymous)
	Credential auth.CredentialFunc

	// Use HTTP instead of HTTPS
	PlainHTTP bool

	// Timeout for a whole push
	Timeout time.Duration
}

// DefaultServiceOpts returns default service options
func DefaultServiceOpts() *ServiceOpts {
	return &ServiceOpts{
		Timeout: DefaultTimeout,
	}
}

// WithCredential authenticates to host with a username and secret
func (opts *ServiceOpts) WithCredential(host, username, secret string) *ServiceOpts {
	opts.Credential = auth.StaticCredential(host, auth.Credential{
		Username: username,
		Password: secret,
	})
	return opts
}

// WithPlainHTTP toggles plain HTTP
func (opts *ServiceOpts) WithPlainHTTP(plain bool) *ServiceOpts {
	opts.PlainHTTP = plain
	return opts
}

// WithTimeout sets the push timeout
func (opts *ServiceOpts) WithTimeout(timeout time.Duration) *ServiceOpts {
	opts.Timeout = timeout
	return opts
}

// Service pushes run artifacts to OCI registries
type Service struct {
	opts *ServiceOpts
}

// NewService creates a new ORAS push service
func NewService(opts *ServiceOpts) *Service {
	if opts == nil {
		opts = DefaultServiceOpts()
	}
	return &Service{opts: opts}
}

// Push packs the artifact and copies it to ref (registry/repository[:tag])
func (s *Service) Push(ctx context.Context, ref string, a Artifact) (*PushResult, error) {
	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	tag := parsed.Reference
	if tag == "" {
		tag = "latest"
	}
	if strings.Contains(tag, ":") {
		return nil, fmt.Errorf("reference %q must use a tag, not a digest", ref)
	}

	repo, err := s.repository(parsed)
	if err != nil {
		return nil, err
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	result, err := s.PushTo(ctx, repo, tag, a)
	if err != nil {
		return nil, err
	}
	result.Reference = fmt.Sprintf("%s/%s@%s", parsed.Registry, parsed.Repository, result.Manifest.Digest)
	return result, nil
}

// Pull extracts the titled layers of the artifact at ref into dir and
// returns the written paths
func (s *Service) Pull(ctx context.Context, ref, dir string) ([]string, error) {
	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	if parsed.Reference == "" {
		parsed.Reference = "latest"
	}

	repo, err := s.repository(parsed)
	if err != nil {
		return nil, err
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	return ExtractLayers(ctx, repo, parsed.Reference, dir)
}

func (s *Service) repository(parsed registry.Reference) (*remote.Repository, error) {
	repo, err := remote.NewRepository(parsed.Registry + "/" + parsed.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository client: %w", err)
	}
	repo.PlainHTTP = s.opts.PlainHTTP

	// Configure ORAS authentication
	client := &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
	}
	if s.opts.Credential != nil {
		client.Credential = s.opts.Credential
	}
	repo.Client = client
	return repo, nil
}

// PushTo packs the artifact and copies it to dst under tag
func (s *Service) PushTo(ctx context.Context, dst oras.Target, tag string, a Artifact) (*PushResult, error) {
	store := memory.New()

	manifest, layers, err := Pack(ctx, store, a)
	if err != nil {
		return nil, err
	}
	if err := store.Tag(ctx, manifest, tag); err != nil {
		return nil, fmt.Errorf("failed to tag manifest: %w", err)
	}

	if _, err := oras.Copy(ctx, store, tag, dst, tag, oras.DefaultCopyOptions); err != nil {
		return nil, fmt.Errorf("failed to push artifact: %w", err)
	}

	return &PushResult{
		Reference: tag,
		Manifest:  manifest,
		Layers:    layers,
	}, nil
}

// Pack writes the layers and an image manifest to pusher
func Pack(ctx context.Context, pusher content.Pusher, a Artifact) (ocispec.Descriptor, []ocispec.Descriptor, error) {
	if len(a.Layers) == 0 {
		return ocispec.Descriptor{}, nil, fmt.Errorf("artifact has no layers")
	}

	layers := make([]ocispec.Descriptor, 0, len(a.Layers))
	for _, layer := range a.Layers {
		desc, err := oras.PushBytes(ctx, pusher, layer.MediaType, layer.Content)
		if err != nil {
			return ocispec.Descriptor{}, nil, fmt.Errorf("failed to push layer %s: %w", layer.Name, err)
		}
		desc.Annotations = map[string]string{ocispec.AnnotationTitle: layer.Name}
		layers = append(layers, desc)
	}

	created := a.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	annotations := map[string]string{ocispec.AnnotationCreated: created.Format(time.RFC3339)}
	maps.Copy(annotations, a.Annotations)

	manifest, err := oras.PackManifest(ctx, pusher, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers:              layers,
		ManifestAnnotations: annotations,
	})
	if err != nil {
		return ocispec.Descriptor{}, nil, fmt.Errorf("failed to pack manifest: %w", err)
	}
	return manifest, layers, nil
}

// FetchLayer returns the content of the layer titled name
func FetchLayer(ctx context.Context, target oras.ReadOnlyTarget, ref, name string) ([]byte, digest.Digest, error) {
	manifest, err := fetchManifest(ctx, target, ref)
	if err != nil {
		return nil, "", err
	}
	for _, layer := range manifest.Layers {
		if layer.Annotations[ocispec.AnnotationTitle] != name {
			continue
		}
		data, err := content.FetchAll(ctx, target, layer)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch layer %s: %w", name, err)
		}
		return data, layer.Digest, nil
	}
	return nil, "", fmt.Errorf("layer %s not found in %s", name, ref)
}

// ExtractLayers writes every titled layer of a run artifact to dir
func ExtractLayers(ctx context.Context, target oras.ReadOnlyTarget, ref, dir string) ([]string, error) {
	manifest, err := fetchManifest(ctx, target, ref)
	if err != nil {
		return nil, err
	}
	if manifest.ArtifactType != ArtifactType {
		return nil, fmt.Errorf("%s is not a run artifact (artifact type %q)", ref, manifest.ArtifactType)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	var written []string
	for _, layer := range manifest.Layers {
		name := layer.Annotations[ocispec.AnnotationTitle]
		if name == "" {
			continue
		}
		if name != filepath.Base(name) || name == "." || name == ".." {
			return nil, fmt.Errorf("refusing layer with unsafe title %q", name)
		}

		data, err := content.FetchAll(ctx, target, layer)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
		}

		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func fetchManifest(ctx context.Context, target oras.ReadOnlyTarget, ref string) (*ocispec.Manifest, error) {
	manifestDesc, manifestBytes, err := oras.FetchBytes(ctx, target, ref, oras.DefaultFetchBytesOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	if manifestDesc.MediaType != ocispec.MediaTypeImageManifest {
		return nil, fmt.Errorf("unexpected manifest media type: %s", manifestDesc.MediaType)
	}
	return decodeManifest(manifestBytes)
}

func decodeManifest(data []byte) (*ocispec.Manifest, error) {
	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &manifest, nil
}
