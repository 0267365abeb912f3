package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/archapi/pkg/types"
	"github.com/distribution/reference"
)

// Labels stamped on every container this daemon creates
const (
	LabelManaged       = "archapi.managed"
	LabelConfiguration = "archapi.configuration"
	LabelModule        = "archapi.module"
)

// DefaultStopTimeout is the grace period before a container is killed
const DefaultStopTimeout = 10 * time.Second

// Runtime is the container engine the orchestrator drives
type Runtime interface {
	// ImageExists reports whether the image is present locally
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	// InspectImage returns local image details or an ErrNotFound error
	InspectImage(ctx context.Context, ref string) (*types.ImageDetails, error)

	// RunContainer creates and starts a container, returning its id
	RunContainer(ctx context.Context, name string, spec types.ContainerSpec, labels map[string]string) (string, error)
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	// ListContainers returns every container, managed or not
	ListContainers(ctx context.Context) ([]types.ContainerStatus, error)

	Close() error
}

// NormalizeImage returns the fully qualified form of an image reference,
// adding the default registry and the latest tag when they are missing
func NormalizeImage(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	return reference.TagNameOnly(named).String(), nil
}

// ManagedLabels returns the labels identifying a module container
func ManagedLabels(configuration, module string) map[string]string {
	return map[string]string{
		LabelManaged:       "true",
		LabelConfiguration: configuration,
		LabelModule:        module,
	}
}

// mergeLabels combines spec labels with management labels, the latter winning
func mergeLabels(spec, managed map[string]string) map[string]string {
	out := make(map[string]string, len(spec)+len(managed))
	for k, v := range spec {
		out[k] = v
	}
	for k, v := range managed {
		out[k] = v
	}
	return out
}

func statusFromLabels(s *types.ContainerStatus, labels map[string]string) {
	s.Managed = labels[LabelManaged] == "true"
	s.Configuration = labels[LabelConfiguration]
	s.Module = labels[LabelModule]
}
