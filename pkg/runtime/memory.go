package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/opencontainers/go-digest"
)

// MemoryRuntime is a Runtime that only records what it is asked to do.
// It backs dry runs and tests.
type MemoryRuntime struct {
	mu         sync.Mutex
	images     map[string]*types.ImageDetails
	containers map[string]*memoryContainer
	calls      []string
	nextID     int

	// Gate, when set, holds every pull and run until it yields or is closed
	Gate chan struct{}
	// PullErrors and RunErrors inject failures by image ref and container name
	PullErrors map[string]error
	RunErrors  map[string]error
}

type memoryContainer struct {
	status types.ContainerStatus
	spec   types.ContainerSpec
}

// NewMemoryRuntime creates an empty in-memory runtime
func NewMemoryRuntime() *MemoryRuntime {
	return &MemoryRuntime{
		images:     make(map[string]*types.ImageDetails),
		containers: make(map[string]*memoryContainer),
		PullErrors: make(map[string]error),
		RunErrors:  make(map[string]error),
	}
}

// AddImage makes an image present locally
func (r *MemoryRuntime) AddImage(ref string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[ref] = &types.ImageDetails{
		Reference: ref,
		Digest:    digest.FromString(ref).String(),
		Labels:    labels,
	}
}

// AddContainer registers an existing container
func (r *MemoryRuntime) AddContainer(s types.ContainerStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		r.nextID++
		s.ID = fmt.Sprintf("c%d", r.nextID)
	}
	r.containers[s.ID] = &memoryContainer{status: s}
}

// Calls returns the operations performed so far, e.g. "pull nginx"
func (r *MemoryRuntime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Spec returns the spec a container was started with
func (r *MemoryRuntime) Spec(name string) (types.ContainerSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.containers {
		if c.status.Name == name {
			return c.spec, true
		}
	}
	return types.ContainerSpec{}, false
}

func (r *MemoryRuntime) record(format string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *MemoryRuntime) wait(ctx context.Context) error {
	if r.Gate == nil {
		return nil
	}
	select {
	case <-r.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *MemoryRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.images[ref]
	return ok, nil
}

func (r *MemoryRuntime) PullImage(ctx context.Context, ref string) error {
	r.record("pull %s", ref)
	if err := r.wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.PullErrors[ref]; err != nil {
		return err
	}
	r.images[ref] = &types.ImageDetails{Reference: ref, Digest: digest.FromString(ref).String(), Labels: map[string]string{}}
	return nil
}

func (r *MemoryRuntime) InspectImage(ctx context.Context, ref string) (*types.ImageDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[ref]
	if !ok {
		return nil, errdefs.NotFoundf("image %s not found locally", ref)
	}
	out := *img
	return &out, nil
}

func (r *MemoryRuntime) RunContainer(ctx context.Context, name string, spec types.ContainerSpec, labels map[string]string) (string, error) {
	r.record("run %s", name)
	if err := r.wait(ctx); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.RunErrors[name]; err != nil {
		return "", err
	}
	for _, c := range r.containers {
		if c.status.Name == name {
			return "", fmt.Errorf("container name %s is already in use", name)
		}
	}

	r.nextID++
	id := fmt.Sprintf("c%d", r.nextID)
	s := types.ContainerStatus{
		ID:     id,
		Name:   name,
		Image:  spec.Image,
		State:  "running",
		Status: "Up",
	}
	statusFromLabels(&s, mergeLabels(spec.Labels, labels))
	r.containers[id] = &memoryContainer{status: s, spec: spec.Clone()}
	return id, nil
}

func (r *MemoryRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	r.record("stop %s", id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		c.status.State = "exited"
	}
	return nil
}

func (r *MemoryRuntime) RemoveContainer(ctx context.Context, id string) error {
	r.record("remove %s", id)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
	return nil
}

func (r *MemoryRuntime) ListContainers(ctx context.Context) ([]types.ContainerStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ContainerStatus, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRuntime) Close() error {
	return nil
}
