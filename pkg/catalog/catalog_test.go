package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestCatalog(t *testing.T, arch string) (*Catalog, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, modulesDir), 0o755))
	c, err := New(Options{Root: root, Arch: arch})
	require.NoError(t, err)
	return c, root
}

func TestModuleNormalization(t *testing.T) {
	c, root := newTestCatalog(t, "")
	writeFile(t, filepath.Join(root, "modules", "web.yaml"), `
description: web frontend
configuration:
  image: nginx:latest
  container_name: frontend
  command: nginx -g "daemon off;"
  ports:
    - "8080:80"
    - "127.0.0.1:5353:53/udp"
  volumes:
    - /host:/container
    - /etc/config:/config:ro
  environment:
    - MODE=prod
  restart: on-failure:3
  mem_limit: 256m
  shm_size: 64m
`)

	def, err := c.Module("web")
	require.NoError(t, err)

	spec := def.Configuration
	assert.Equal(t, "web", def.Type)
	assert.Equal(t, "web frontend", def.Description)
	assert.Equal(t, "frontend", spec.Name)
	assert.Equal(t, types.Command{"nginx", "-g", "daemon off;"}, spec.Command)
	assert.Equal(t, map[string]int{"80": 8080, "53/udp": 5353}, spec.Ports)
	assert.Equal(t, types.VolumeBind{Target: "/container", Mode: "rw"}, spec.Volumes["/host"])
	assert.Equal(t, types.VolumeBind{Target: "/config", Mode: "ro"}, spec.Volumes["/etc/config"])
	assert.Equal(t, "prod", spec.Environment["MODE"])
	require.NotNil(t, spec.RestartPolicy)
	assert.Equal(t, types.RestartPolicy{Name: "on-failure", MaximumRetryCount: 3}, *spec.RestartPolicy)
	assert.Equal(t, "256m", spec.MemLimit)
	assert.True(t, spec.Detach)
	assert.Equal(t, "64m", spec.Extra["shm_size"])
}

func TestModuleArchExpansion(t *testing.T) {
	tests := []struct {
		name  string
		arch  string
		image string
		want  string
	}{
		{"token default", "", "duckietown/watchtower:${ARCH-arm32v7}", "duckietown/watchtower:arm32v7"},
		{"configured wins", "arm64v8", "duckietown/watchtower:${ARCH-arm32v7}", "duckietown/watchtower:arm64v8"},
		{"plain token", "arm32v7", "duckietown/base:${ARCH}", "duckietown/base:arm32v7"},
		{"host fallback", "", "duckietown/base:${ARCH}", "duckietown/base:" + HostArch()},
		{"no token", "arm32v7", "nginx:1.25", "nginx:1.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandArch(tt.image, tt.arch))
		})
	}
}

func TestModuleNotFound(t *testing.T) {
	c, _ := newTestCatalog(t, "")

	_, err := c.Module("ghost")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestModuleMalformed(t *testing.T) {
	c, root := newTestCatalog(t, "")
	writeFile(t, filepath.Join(root, "modules", "broken.yaml"), "configuration: [not, a, map")
	writeFile(t, filepath.Join(root, "modules", "noimage.yaml"), "configuration:\n  privileged: true\n")
	writeFile(t, filepath.Join(root, "modules", "badport.yaml"), "configuration:\n  image: x\n  ports: [\"http:80\"]\n")

	for _, typ := range []string{"broken", "noimage", "badport"} {
		_, err := c.Module(typ)
		require.Error(t, err, typ)
		assert.ErrorIs(t, err, errdefs.ErrDecode, typ)
	}
}

func TestModuleCacheRefresh(t *testing.T) {
	c, root := newTestCatalog(t, "")
	path := filepath.Join(root, "modules", "app.yaml")
	writeFile(t, path, "configuration:\n  image: app:v1\n")

	def, err := c.Module("app")
	require.NoError(t, err)
	assert.Equal(t, "app:v1", def.Configuration.Image)

	// callers get copies
	def.Configuration.Image = "mutated"
	again, err := c.Module("app")
	require.NoError(t, err)
	assert.Equal(t, "app:v1", again.Configuration.Image)

	writeFile(t, path, "configuration:\n  image: app:version2\n")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	updated, err := c.Module("app")
	require.NoError(t, err)
	assert.Equal(t, "app:version2", updated.Configuration.Image)
}

func TestConfiguration(t *testing.T) {
	c, root := newTestCatalog(t, "")
	writeFile(t, filepath.Join(root, "configurations", "watchtower", "town.yaml"), `
description: town setup
modules:
  watchtower:
    type: watchtower
    privileged: true
    environment:
      ROLE: tower
devices:
  duckiebot:
    configuration: patrol
`)

	def, err := c.Configuration("watchtower", "town")
	require.NoError(t, err)
	assert.Equal(t, "town", def.Name)
	assert.Equal(t, "watchtower", def.RobotType)
	assert.Equal(t, "town setup", def.Description)
	require.Contains(t, def.Modules, "watchtower")

	inst := def.Modules["watchtower"]
	assert.Equal(t, "watchtower", inst.Type)
	require.NotNil(t, inst.Privileged)
	assert.True(t, *inst.Privileged)
	assert.Equal(t, "tower", inst.Environment["ROLE"])
	assert.Equal(t, "patrol", def.Devices["duckiebot"].Configuration)

	names, err := c.ListConfigurations("watchtower")
	require.NoError(t, err)
	assert.Equal(t, []string{"town"}, names)
}

func TestConfigurationErrors(t *testing.T) {
	c, root := newTestCatalog(t, "")
	writeFile(t, filepath.Join(root, "configurations", "duckiebot", "untyped.yaml"), "modules:\n  a:\n    privileged: true\n")

	_, err := c.Configuration("duckiebot", "missing")
	assert.True(t, errdefs.IsNotFound(err))
	assert.Contains(t, err.Error(), "missing")

	_, err = c.Configuration("duckiebot", "untyped")
	assert.ErrorIs(t, err, errdefs.ErrDecode)

	_, err = c.Configuration("duckiebot", "../escape")
	assert.ErrorIs(t, err, errdefs.ErrInvalid)

	_, err = c.ListConfigurations("nothing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListModules(t *testing.T) {
	c, root := newTestCatalog(t, "")
	writeFile(t, filepath.Join(root, "modules", "b.yaml"), "configuration:\n  image: b\n")
	writeFile(t, filepath.Join(root, "modules", "a.yaml"), "configuration:\n  image: a\n")
	writeFile(t, filepath.Join(root, "modules", "README.md"), "ignored")

	names, err := c.ListModules()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestHandleEventInvalidates(t *testing.T) {
	var changed []string
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "modules", "app.yaml"), "configuration:\n  image: app\n")
	c, err := New(Options{Root: root, OnChange: func(typ string) { changed = append(changed, typ) }})
	require.NoError(t, err)

	_, err = c.Module("app")
	require.NoError(t, err)
	c.mu.RLock()
	assert.Contains(t, c.modules, "app")
	c.mu.RUnlock()

	c.handleEvent(fsnotifyWrite(filepath.Join(root, "modules", "app.yaml")))

	c.mu.RLock()
	assert.NotContains(t, c.modules, "app")
	c.mu.RUnlock()
	assert.Equal(t, []string{"app"}, changed)
}
