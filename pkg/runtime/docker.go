package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"
)

// DockerRuntime implements Runtime using the Docker engine API
type DockerRuntime struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewDockerRuntime connects to the engine at host, or to the one described
// by the DOCKER_* environment when host is empty
func NewDockerRuntime(host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, logger: log.WithComponent("runtime.docker")}, nil
}

// Close closes the client connection
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// ImageExists reports whether the image is present locally
func (r *DockerRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %s: %w", ref, err)
}

// PullImage pulls an image and waits for the pull to finish
func (r *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	reader, err := r.cli.ImagePull(ctx, ref, dockertypes.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// InspectImage returns the labels and digest of a local image
func (r *DockerRuntime) InspectImage(ctx context.Context, ref string) (*types.ImageDetails, error) {
	info, _, err := r.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, errdefs.NotFoundf("image %s not found locally", ref)
		}
		return nil, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	details := &types.ImageDetails{Reference: ref, Digest: info.ID, Labels: map[string]string{}}
	if len(info.RepoDigests) > 0 {
		if _, digest, ok := strings.Cut(info.RepoDigests[0], "@"); ok {
			details.Digest = digest
		}
	}
	if info.Config != nil && info.Config.Labels != nil {
		details.Labels = info.Config.Labels
	}
	return details, nil
}

// RunContainer creates and starts a container for a module
func (r *DockerRuntime) RunContainer(ctx context.Context, name string, spec types.ContainerSpec, labels map[string]string) (string, error) {
	cfg, hostCfg, err := dockerConfig(spec, labels)
	if err != nil {
		return "", err
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}
	for _, w := range resp.Warnings {
		r.logger.Warn().Str("container", name).Msg(w)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return resp.ID, nil
}

// StopContainer stops a running container
func (r *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer force-removes a container
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// ListContainers returns all containers, running or not
func (r *DockerRuntime) ListContainers(ctx context.Context) ([]types.ContainerStatus, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]types.ContainerStatus, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		s := types.ContainerStatus{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			State:  c.State,
			Status: c.Status,
		}
		statusFromLabels(&s, c.Labels)
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// dockerConfig translates a normalized spec into engine create options
func dockerConfig(spec types.ContainerSpec, labels map[string]string) (*container.Config, *container.HostConfig, error) {
	cfg := &container.Config{
		Image:     spec.Image,
		Cmd:       []string(spec.Command),
		Env:       spec.Environment.List(),
		Labels:    mergeLabels(spec.Labels, labels),
		Tty:       spec.TTY,
		OpenStdin: spec.StdinOpen,
	}
	hostCfg := &container.HostConfig{
		Privileged:  spec.Privileged,
		NetworkMode: container.NetworkMode(spec.NetworkMode),
	}

	if len(spec.Ports) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		hostCfg.PortBindings = nat.PortMap{}
		for internal, external := range spec.Ports {
			proto, port := nat.SplitProtoPort(internal)
			p, err := nat.NewPort(proto, port)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid port %s: %w", internal, err)
			}
			cfg.ExposedPorts[p] = struct{}{}
			hostCfg.PortBindings[p] = []nat.PortBinding{{HostPort: fmt.Sprint(external)}}
		}
	}

	hosts := make([]string, 0, len(spec.Volumes))
	for host := range spec.Volumes {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		bind := spec.Volumes[host]
		hostCfg.Binds = append(hostCfg.Binds, fmt.Sprintf("%s:%s:%s", host, bind.Target, bind.Mode))
	}

	if spec.RestartPolicy != nil {
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	var err error
	if hostCfg.Memory, err = parseMemory(spec.MemLimit); err != nil {
		return nil, nil, fmt.Errorf("invalid mem_limit: %w", err)
	}
	if hostCfg.MemorySwap, err = parseMemory(spec.MemswapLimit); err != nil {
		return nil, nil, fmt.Errorf("invalid memswap_limit: %w", err)
	}

	if err := applyExtra(cfg, hostCfg, spec.Extra); err != nil {
		return nil, nil, err
	}
	return cfg, hostCfg, nil
}

// parseMemory parses sizes such as "512m"; "-1" means unlimited swap
func parseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0, nil
	case "-1":
		return -1, nil
	}
	return units.RAMInBytes(s)
}

// applyExtra maps the free-form keys of a module onto engine options.
// Keys the engine has no equivalent for are ignored.
func applyExtra(cfg *container.Config, hostCfg *container.HostConfig, extra map[string]any) error {
	for key, v := range extra {
		switch key {
		case "hostname":
			cfg.Hostname = fmt.Sprint(v)
		case "user":
			cfg.User = fmt.Sprint(v)
		case "working_dir":
			cfg.WorkingDir = fmt.Sprint(v)
		case "entrypoint":
			args, err := stringList(v)
			if err != nil {
				return fmt.Errorf("invalid entrypoint: %w", err)
			}
			cfg.Entrypoint = args
		case "ipc_mode":
			hostCfg.IpcMode = container.IpcMode(fmt.Sprint(v))
		case "pid_mode":
			hostCfg.PidMode = container.PidMode(fmt.Sprint(v))
		case "runtime":
			hostCfg.Runtime = fmt.Sprint(v)
		case "cap_add":
			caps, err := stringList(v)
			if err != nil {
				return fmt.Errorf("invalid cap_add: %w", err)
			}
			hostCfg.CapAdd = caps
		case "extra_hosts":
			hosts, err := stringList(v)
			if err != nil {
				return fmt.Errorf("invalid extra_hosts: %w", err)
			}
			hostCfg.ExtraHosts = hosts
		case "shm_size":
			size, err := units.RAMInBytes(fmt.Sprint(v))
			if err != nil {
				return fmt.Errorf("invalid shm_size: %w", err)
			}
			hostCfg.ShmSize = size
		case "devices":
			devices, err := stringList(v)
			if err != nil {
				return fmt.Errorf("invalid devices: %w", err)
			}
			for _, d := range devices {
				hostCfg.Devices = append(hostCfg.Devices, parseDevice(d))
			}
		}
	}
	return nil
}

// parseDevice parses "host[:container[:permissions]]"
func parseDevice(s string) container.DeviceMapping {
	parts := strings.SplitN(s, ":", 3)
	m := container.DeviceMapping{PathOnHost: parts[0], PathInContainer: parts[0], CgroupPermissions: "rwm"}
	if len(parts) > 1 && parts[1] != "" {
		m.PathInContainer = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		m.CgroupPermissions = parts[2]
	}
	return m
}

// stringList accepts a YAML list or a shell-style string
func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return shellwords.Parse(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case []string:
		return t, nil
	default:
		return nil, fmt.Errorf("expected a string or a list, got %T", v)
	}
}
