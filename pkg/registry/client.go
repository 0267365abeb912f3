package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	goruntime "runtime"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/distribution/reference"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	DefaultRegistryURL = "https://registry-1.docker.io"
	DefaultAuthURL     = "https://auth.docker.io/token"
	DefaultService     = "registry.docker.io"

	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

	// maxBodySize bounds manifests and config blobs
	maxBodySize = 8 << 20
)

// Config holds registry client configuration
type Config struct {
	RegistryURL string
	// AuthURL is the token endpoint; empty disables token auth
	AuthURL  string
	Service  string
	Timeout  time.Duration
	RetryMax int
	// Platform selects an entry from multi-platform indexes
	Platform ocispec.Platform
}

// DefaultConfig returns the Docker Hub configuration for this host's platform
func DefaultConfig() Config {
	return Config{
		RegistryURL: DefaultRegistryURL,
		AuthURL:     DefaultAuthURL,
		Service:     DefaultService,
		Timeout:     30 * time.Second,
		RetryMax:    3,
		Platform:    HostPlatform(),
	}
}

// HostPlatform returns the OCI platform of this binary
func HostPlatform() ocispec.Platform {
	p := ocispec.Platform{OS: "linux", Architecture: goruntime.GOARCH}
	if goruntime.GOARCH == "arm" {
		p.Variant = "v7"
	}
	return p
}

// Client reads image manifests and configs from a v2 registry
type Client struct {
	cfg  Config
	http *retryablehttp.Client
}

// New creates a registry client
func New(cfg Config) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = log.NewLeveled(log.WithComponent("registry"))

	return &Client{cfg: cfg, http: hc}
}

type manifestDoc struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Config        *ocispec.Descriptor  `json:"config"`
	Manifests     []ocispec.Descriptor `json:"manifests"`
}

// Lookup returns the labels and manifest digest of a remote image
func (c *Client) Lookup(ctx context.Context, image string) (*types.ImageDetails, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return nil, errdefs.Invalidf("invalid image reference %q", image)
	}
	repo := reference.Path(named)
	ref := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		ref = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref = digested.Digest().String()
	}

	token, err := c.token(ctx, repo)
	if err != nil {
		return nil, err
	}

	manifest, manifestDigest, err := c.manifest(ctx, repo, ref, token)
	if err != nil {
		return nil, err
	}
	if len(manifest.Manifests) > 0 {
		desc, err := c.selectPlatform(manifest.Manifests)
		if err != nil {
			return nil, errdefs.Decode(err, "no usable manifest for %s", image)
		}
		manifest, manifestDigest, err = c.manifest(ctx, repo, desc.Digest.String(), token)
		if err != nil {
			return nil, err
		}
		if manifestDigest == "" {
			manifestDigest = desc.Digest.String()
		}
	}
	if manifest.Config == nil {
		return nil, errdefs.Decode(nil, "manifest of %s has no config", image)
	}

	var config ocispec.Image
	if err := c.blob(ctx, repo, manifest.Config.Digest, token, &config); err != nil {
		return nil, err
	}

	labels := config.Config.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return &types.ImageDetails{
		Reference: image,
		Digest:    manifestDigest,
		Labels:    labels,
	}, nil
}

func (c *Client) token(ctx context.Context, repo string) (string, error) {
	if c.cfg.AuthURL == "" {
		return "", nil
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RegistryRequestDuration, "token")

	q := url.Values{}
	q.Set("scope", fmt.Sprintf("repository:%s:pull", repo))
	q.Set("service", c.cfg.Service)

	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if _, err := c.getJSON(ctx, c.cfg.AuthURL+"?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	if resp.Token != "" {
		return resp.Token, nil
	}
	if resp.AccessToken != "" {
		return resp.AccessToken, nil
	}
	return "", errdefs.Decode(nil, "token response for %s has no token", repo)
}

func (c *Client) manifest(ctx context.Context, repo, ref, token string) (*manifestDoc, string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RegistryRequestDuration, "manifest")

	headers := http.Header{}
	for _, mt := range []string{
		ocispec.MediaTypeImageManifest,
		ocispec.MediaTypeImageIndex,
		mediaTypeDockerManifest,
		mediaTypeDockerManifestList,
	} {
		headers.Add("Accept", mt)
	}
	authorize(headers, token)

	var doc manifestDoc
	resp, err := c.getJSON(ctx, fmt.Sprintf("%s/v2/%s/manifests/%s", c.cfg.RegistryURL, repo, ref), headers, &doc)
	if err != nil {
		return nil, "", err
	}
	if doc.SchemaVersion != 2 {
		return nil, "", errdefs.Decode(nil, "unsupported manifest schema version %d for %s", doc.SchemaVersion, repo)
	}
	if doc.MediaType == "" {
		doc.MediaType = resp.Header.Get("Content-Type")
	}
	return &doc, resp.Header.Get("Docker-Content-Digest"), nil
}

// selectPlatform picks the index entry matching the configured platform
func (c *Client) selectPlatform(manifests []ocispec.Descriptor) (ocispec.Descriptor, error) {
	want := c.cfg.Platform
	var fallback *ocispec.Descriptor
	for i, m := range manifests {
		if m.Platform == nil {
			continue
		}
		if m.Platform.OS != want.OS || m.Platform.Architecture != want.Architecture {
			continue
		}
		if want.Variant == "" || m.Platform.Variant == want.Variant {
			return m, nil
		}
		if fallback == nil {
			fallback = &manifests[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return ocispec.Descriptor{}, fmt.Errorf("no manifest for platform %s/%s", want.OS, want.Architecture)
}

// blob fetches a blob, checks it against its digest and decodes it
func (c *Client) blob(ctx context.Context, repo string, d digest.Digest, token string, v any) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RegistryRequestDuration, "blob")

	if err := d.Validate(); err != nil {
		return errdefs.Decode(err, "invalid config digest for %s", repo)
	}
	headers := http.Header{}
	authorize(headers, token)

	body, _, err := c.get(ctx, fmt.Sprintf("%s/v2/%s/blobs/%s", c.cfg.RegistryURL, repo, d), headers)
	if err != nil {
		return err
	}

	verifier := d.Verifier()
	_, _ = verifier.Write(body)
	if !verifier.Verified() {
		return errdefs.Decode(nil, "config blob of %s does not match digest %s", repo, d)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errdefs.Decode(err, "malformed config blob for %s", repo)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, headers http.Header, v any) (*http.Response, error) {
	body, resp, err := c.get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, errdefs.Decode(err, "malformed response from %s", rawURL)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawURL string, headers http.Header) ([]byte, *http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, errdefs.Transport(err, "registry request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, errdefs.Transport(err, "failed to read registry response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, errdefs.Transport(nil, "registry returned %s for %s", resp.Status, rawURL)
	}
	return body, resp, nil
}

func authorize(h http.Header, token string) {
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}
