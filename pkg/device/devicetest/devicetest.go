// Package devicetest builds fully wired device services for tests.
package devicetest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/archapi/pkg/catalog"
	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/ledger"
	"github.com/cuemby/archapi/pkg/orchestrator"
	"github.com/cuemby/archapi/pkg/registry"
	"github.com/cuemby/archapi/pkg/resolver"
	"github.com/cuemby/archapi/pkg/runtime"
	"github.com/cuemby/archapi/pkg/storage"
	"github.com/stretchr/testify/require"
)

// Town is a small catalog: a "town" configuration for watchtowers whose
// duckiebots run "patrol", plus a "monitoring" configuration for duckiebots.
var Town = map[string]string{
	"configurations/watchtower/town.yaml": `description: town monitoring
modules:
  watchtower:
    type: watchtower
devices:
  duckiebot:
    configuration: patrol
`,
	"configurations/duckiebot/town.yaml": `modules:
  watchtower:
    type: watchtower
`,
	"configurations/duckiebot/patrol.yaml": `modules:
  camera:
    type: camera
    privileged: true
`,
	"modules/watchtower.yaml": `description: watchtower
configuration:
  image: duckietown/watchtower:${ARCH-arm32v7}
  container_name: watchtower
  restart: unless-stopped
  volumes:
    - /var/run/docker.sock:/var/run/docker.sock
`,
	"modules/camera.yaml": `configuration:
  image: duckietown/dt-duckiebot-interface:daffy-${ARCH}
  ports:
    - "8080:80"
`,
}

// Options configures a test device
type Options struct {
	Hostname  string
	RobotType string
	Arch      string
	// Files are written below the catalog root. Nil means Town.
	Files map[string]string
}

// Device is a wired test device
type Device struct {
	Service      *device.Service
	Runtime      *runtime.MemoryRuntime
	Orchestrator *orchestrator.Orchestrator
	Catalog      *catalog.Catalog
}

// New builds and starts a device backed by an in-memory runtime
func New(t *testing.T, opts Options) *Device {
	t.Helper()
	if opts.Hostname == "" {
		opts.Hostname = "watchtower01"
	}
	if opts.RobotType == "" {
		opts.RobotType = "watchtower"
	}
	if opts.Arch == "" {
		opts.Arch = "arm32v7"
	}
	if opts.Files == nil {
		opts.Files = Town
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "modules"), 0o755))
	for name, content := range opts.Files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	cat, err := catalog.New(catalog.Options{Root: root, Arch: opts.Arch})
	require.NoError(t, err)

	rt := runtime.NewMemoryRuntime()
	orch := orchestrator.New(orchestrator.Config{
		Runtime:     rt,
		Ledger:      ledger.New(storage.NewMemoryStore(), opts.Hostname+"-boot"),
		StopTimeout: time.Second,
	})
	orch.Start()
	t.Cleanup(orch.Stop)

	svc := device.New(device.Options{
		Hostname:     opts.Hostname,
		RobotType:    opts.RobotType,
		Arch:         opts.Arch,
		Catalog:      cat,
		Resolver:     resolver.New(cat, opts.RobotType),
		Orchestrator: orch,
		Tracer:       registry.NewTracer(rt, nil, registry.AncestryOptions{}),
	})
	return &Device{Service: svc, Runtime: rt, Orchestrator: orch, Catalog: cat}
}
