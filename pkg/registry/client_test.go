package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	config      []byte
	configDgst  digest.Digest
	armDgst     digest.Digest
	corruptBlob bool
	tokens      int
}

func newFakeRegistry(t *testing.T, labels map[string]string) *fakeRegistry {
	t.Helper()
	img := ocispec.Image{
		Platform: ocispec.Platform{OS: "linux", Architecture: "arm64"},
		Config:   ocispec.ImageConfig{Labels: labels},
	}
	raw, err := json.Marshal(img)
	require.NoError(t, err)
	return &fakeRegistry{
		config:     raw,
		configDgst: digest.FromBytes(raw),
		armDgst:    digest.FromString("arm64 manifest"),
	}
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token":
		f.tokens++
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "secret"})
		return
	}
	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/v2/duckietown/dt-core/manifests/daffy":
		w.Header().Set("Docker-Content-Digest", "sha256:index")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"schemaVersion": 2,
			"mediaType":     ocispec.MediaTypeImageIndex,
			"manifests": []ocispec.Descriptor{
				{Digest: digest.FromString("amd64 manifest"), Platform: &ocispec.Platform{OS: "linux", Architecture: "amd64"}},
				{Digest: f.armDgst, Platform: &ocispec.Platform{OS: "linux", Architecture: "arm64"}},
			},
		})
	case "/v2/duckietown/dt-core/manifests/" + f.armDgst.String(),
		"/v2/duckietown/dt-base/manifests/latest":
		w.Header().Set("Docker-Content-Digest", "sha256:single")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"schemaVersion": 2,
			"mediaType":     mediaTypeDockerManifest,
			"config":        ocispec.Descriptor{Digest: f.configDgst},
		})
	case "/v2/duckietown/dt-core/blobs/" + f.configDgst.String(),
		"/v2/duckietown/dt-base/blobs/" + f.configDgst.String():
		if f.corruptBlob {
			_, _ = w.Write([]byte(`{"config":{}}`))
			return
		}
		_, _ = w.Write(f.config)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testClient(url string) *Client {
	return New(Config{
		RegistryURL: url,
		AuthURL:     url + "/token",
		Service:     "test",
		Timeout:     5 * time.Second,
		RetryMax:    0,
		Platform:    ocispec.Platform{OS: "linux", Architecture: "arm64"},
	})
}

func TestLookupSelectsPlatformFromIndex(t *testing.T) {
	reg := newFakeRegistry(t, map[string]string{"org.duckietown.label.base.image": "dt-base"})
	srv := httptest.NewServer(reg)
	defer srv.Close()

	details, err := testClient(srv.URL).Lookup(context.Background(), "duckietown/dt-core:daffy")
	require.NoError(t, err)

	assert.Equal(t, "duckietown/dt-core:daffy", details.Reference)
	assert.Equal(t, "sha256:single", details.Digest)
	assert.Equal(t, "dt-base", details.Labels["org.duckietown.label.base.image"])
	assert.Equal(t, 1, reg.tokens)
}

func TestLookupDefaultsToLatest(t *testing.T) {
	reg := newFakeRegistry(t, nil)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	details, err := testClient(srv.URL).Lookup(context.Background(), "duckietown/dt-base")
	require.NoError(t, err)
	assert.NotNil(t, details.Labels)
	assert.Empty(t, details.Labels)
}

func TestLookupRejectsBlobWithWrongDigest(t *testing.T) {
	reg := newFakeRegistry(t, nil)
	reg.corruptBlob = true
	srv := httptest.NewServer(reg)
	defer srv.Close()

	_, err := testClient(srv.URL).Lookup(context.Background(), "duckietown/dt-base")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrDecode))
}

func TestLookupMissingRepository(t *testing.T) {
	srv := httptest.NewServer(newFakeRegistry(t, nil))
	defer srv.Close()

	_, err := testClient(srv.URL).Lookup(context.Background(), "duckietown/nothing:here")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrTransport))
}

func TestLookupUnreachableRegistry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Lookup(context.Background(), "duckietown/dt-base")
	require.Error(t, err)
	assert.Equal(t, "transport", errdefs.Kind(err))
}

func TestSelectPlatformPrefersVariant(t *testing.T) {
	c := New(Config{Platform: ocispec.Platform{OS: "linux", Architecture: "arm", Variant: "v7"}})
	v6 := ocispec.Descriptor{Digest: "sha256:v6", Platform: &ocispec.Platform{OS: "linux", Architecture: "arm", Variant: "v6"}}
	v7 := ocispec.Descriptor{Digest: "sha256:v7", Platform: &ocispec.Platform{OS: "linux", Architecture: "arm", Variant: "v7"}}

	got, err := c.selectPlatform([]ocispec.Descriptor{v6, v7})
	require.NoError(t, err)
	assert.Equal(t, v7.Digest, got.Digest)

	got, err = c.selectPlatform([]ocispec.Descriptor{v6})
	require.NoError(t, err)
	assert.Equal(t, v6.Digest, got.Digest)

	_, err = c.selectPlatform([]ocispec.Descriptor{{Digest: "sha256:x"}})
	assert.Error(t, err)
}
