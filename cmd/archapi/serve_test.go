package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/archapi/pkg/config"
	"github.com/cuemby/archapi/pkg/runtime"
	"github.com/cuemby/archapi/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.Backend = config.RuntimeMemory
	rt, err := newRuntime(cfg)
	require.NoError(t, err)
	assert.IsType(t, &runtime.MemoryRuntime{}, rt)

	cfg.Runtime.Backend = "podman"
	_, err = newRuntime(cfg)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	cfg := config.Default()
	store, err := openStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)

	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	store, err = openStore(cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &storage.BoltStore{}, store)
	assert.FileExists(t, filepath.Join(cfg.StateDir, "archapi.db"))
}

func TestResolveCommand(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"configurations/duckiebot/patrol.yaml": "modules:\n  camera:\n    type: camera\n",
		"modules/camera.yaml":                  "configuration:\n  image: duckietown/dt-duckiebot-interface:daffy-${ARCH}\n  ports:\n    - \"8080:80\"\n",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	cfgPath := filepath.Join(t.TempDir(), "archapi.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("data_dir: "+root+"\narch: arm64v8\n"), 0o644))
	t.Setenv("ROBOT_TYPE", "duckiebot")
	t.Setenv("ARCH", "arm64v8")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"resolve", "patrol", "--config", cfgPath, "-o", "yaml"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "duckietown/dt-duckiebot-interface:daffy-arm64v8")
	assert.Contains(t, out.String(), "robot_type: duckiebot")
}
