package runtime

import (
	"testing"

	"github.com/cuemby/archapi/pkg/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDockerConfig(t *testing.T) {
	spec := types.ContainerSpec{
		Image:         "duckietown/dt-core:daffy-arm32v7",
		Command:       types.Command{"roslaunch", "core.launch"},
		Ports:         map[string]int{"80": 8080, "53/udp": 5353},
		Volumes:       map[string]types.VolumeBind{"/data": {Target: "/data", Mode: "rw"}, "/etc/cfg": {Target: "/cfg", Mode: "ro"}},
		Environment:   types.Environment{"VEHICLE_NAME": "bot01"},
		RestartPolicy: &types.RestartPolicy{Name: "on-failure", MaximumRetryCount: 2},
		Privileged:    true,
		MemLimit:      "512m",
		MemswapLimit:  "-1",
		NetworkMode:   "host",
		TTY:           true,
		Labels:        map[string]string{"owner": "duckietown", LabelManaged: "false"},
		Extra:         map[string]any{"shm_size": "64m", "devices": []any{"/dev/video0"}, "hostname": "bot01"},
	}

	cfg, hostCfg, err := dockerConfig(spec, ManagedLabels("demo", "core"))
	require.NoError(t, err)

	assert.Equal(t, []string{"roslaunch", "core.launch"}, []string(cfg.Cmd))
	assert.Equal(t, []string{"VEHICLE_NAME=bot01"}, cfg.Env)
	assert.True(t, cfg.Tty)
	assert.Equal(t, "bot01", cfg.Hostname)
	assert.Equal(t, "true", cfg.Labels[LabelManaged])
	assert.Equal(t, "demo", cfg.Labels[LabelConfiguration])
	assert.Equal(t, "core", cfg.Labels[LabelModule])
	assert.Equal(t, "duckietown", cfg.Labels["owner"])

	assert.Contains(t, cfg.ExposedPorts, nat.Port("80/tcp"))
	assert.Equal(t, []nat.PortBinding{{HostPort: "8080"}}, hostCfg.PortBindings[nat.Port("80/tcp")])
	assert.Equal(t, []nat.PortBinding{{HostPort: "5353"}}, hostCfg.PortBindings[nat.Port("53/udp")])

	assert.Equal(t, []string{"/data:/data:rw", "/etc/cfg:/cfg:ro"}, hostCfg.Binds)
	assert.Equal(t, container.RestartPolicyMode("on-failure"), hostCfg.RestartPolicy.Name)
	assert.Equal(t, 2, hostCfg.RestartPolicy.MaximumRetryCount)
	assert.True(t, hostCfg.Privileged)
	assert.Equal(t, int64(512*1024*1024), hostCfg.Memory)
	assert.Equal(t, int64(-1), hostCfg.MemorySwap)
	assert.Equal(t, container.NetworkMode("host"), hostCfg.NetworkMode)
	assert.Equal(t, int64(64*1024*1024), hostCfg.ShmSize)
	require.Len(t, hostCfg.Devices, 1)
	assert.Equal(t, "/dev/video0", hostCfg.Devices[0].PathInContainer)
}

func TestDockerConfigInvalidMemory(t *testing.T) {
	_, _, err := dockerConfig(types.ContainerSpec{Image: "x", MemLimit: "lots"}, nil)
	assert.Error(t, err)
}

func TestNormalizeImage(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"nginx", "docker.io/library/nginx:latest"},
		{"duckietown/watchtower:arm32v7", "docker.io/duckietown/watchtower:arm32v7"},
		{"registry.local:5000/app:v1", "registry.local:5000/app:v1"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := NormalizeImage(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeImage("Not A Reference")
	assert.Error(t, err)
}
