package runtime

import (
	"context"
	"fmt"
	"sort"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	cerrdefs "github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace for archapi
	DefaultNamespace = "archapi"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements Runtime using containerd. Published ports
// and restart policies need CNI and a restart monitor respectively, neither
// of which it sets up; modules relying on them should use host networking.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(socketPath, namespace string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: namespace,
		logger:    log.WithComponent("runtime.containerd"),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ImageExists reports whether the image is present in the namespace
func (r *ContainerdRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	name, err := NormalizeImage(ref)
	if err != nil {
		return false, err
	}
	if _, err := r.client.GetImage(ctx, name); err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get image %s: %w", ref, err)
	}
	return true, nil
}

// PullImage pulls a container image from a registry
func (r *ContainerdRuntime) PullImage(ctx context.Context, ref string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	name, err := NormalizeImage(ref)
	if err != nil {
		return err
	}
	if _, err := r.client.Pull(ctx, name, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// InspectImage returns the labels and digest of a local image
func (r *ContainerdRuntime) InspectImage(ctx context.Context, ref string) (*types.ImageDetails, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	name, err := NormalizeImage(ref)
	if err != nil {
		return nil, err
	}
	image, err := r.client.GetImage(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, errdefs.NotFoundf("image %s not found locally", ref)
		}
		return nil, fmt.Errorf("failed to get image %s: %w", ref, err)
	}

	spec, err := image.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read image config %s: %w", ref, err)
	}
	labels := spec.Config.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return &types.ImageDetails{
		Reference: ref,
		Digest:    image.Target().Digest.String(),
		Labels:    labels,
	}, nil
}

// RunContainer creates a container and starts its task
func (r *ContainerdRuntime) RunContainer(ctx context.Context, name string, spec types.ContainerSpec, labels map[string]string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	ref, err := NormalizeImage(spec.Image)
	if err != nil {
		return "", err
	}
	image, err := r.client.GetImage(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to get image %s: %w", spec.Image, err)
	}

	opts, err := containerdSpecOpts(image, spec)
	if err != nil {
		return "", err
	}
	if len(spec.Ports) > 0 && spec.NetworkMode != "host" {
		r.logger.Warn().Str("container", name).Msg("Published ports are not supported by the containerd runtime")
	}

	container, err := r.client.NewContainer(
		ctx,
		name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(mergeLabels(spec.Labels, labels)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to start task: %w", err)
	}

	return container.ID(), nil
}

// containerdSpecOpts translates a normalized spec into OCI spec options
func containerdSpecOpts(image containerd.Image, spec types.ContainerSpec) ([]oci.SpecOpts, error) {
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Environment.List()),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.TTY {
		opts = append(opts, oci.WithTTY)
	}
	if spec.Privileged {
		opts = append(opts, oci.WithPrivileged)
	}
	if spec.NetworkMode == "host" {
		opts = append(opts, oci.WithHostNamespace(specs.NetworkNamespace), oci.WithHostHostsFile, oci.WithHostResolvconf)
	}

	mem, err := parseMemory(spec.MemLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid mem_limit: %w", err)
	}
	if mem > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(mem)))
	}

	if len(spec.Volumes) > 0 {
		hosts := make([]string, 0, len(spec.Volumes))
		for host := range spec.Volumes {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)

		mounts := make([]specs.Mount, 0, len(hosts))
		for _, host := range hosts {
			bind := spec.Volumes[host]
			mounts = append(mounts, specs.Mount{
				Source:      host,
				Destination: bind.Target,
				Type:        "bind",
				Options:     []string{bind.Mode, "rbind"},
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}
	return opts, nil
}

// StopContainer stops a running container
func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// Task might not exist (container not running)
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Try graceful shutdown first (SIGTERM)
	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}
	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		// Timeout - force kill (SIGKILL)
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// RemoveContainer stops a container if needed and removes it with its snapshot
func (r *ContainerdRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		// Container might not exist
		return nil
	}

	if err := r.StopContainer(ctx, containerID, DefaultStopTimeout); err != nil {
		r.logger.Warn().Err(err).Str("container", containerID).Msg("Failed to stop container before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// ListContainers returns all containers in the namespace
func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]types.ContainerStatus, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]types.ContainerStatus, 0, len(containers))
	for _, c := range containers {
		info, err := c.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get container info %s: %w", c.ID(), err)
		}

		s := types.ContainerStatus{
			ID:    c.ID(),
			Name:  c.ID(),
			Image: info.Image,
			State: taskState(ctx, c),
		}
		statusFromLabels(&s, info.Labels)
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// taskState maps the task status onto docker-style state names
func taskState(ctx context.Context, c containerd.Container) string {
	task, err := c.Task(ctx, nil)
	if err != nil {
		return "created"
	}
	status, err := task.Status(ctx)
	if err != nil {
		return "unknown"
	}

	switch status.Status {
	case containerd.Running:
		return "running"
	case containerd.Paused, containerd.Pausing:
		return "paused"
	case containerd.Stopped:
		return "exited"
	case containerd.Created:
		return "created"
	default:
		return "unknown"
	}
}
