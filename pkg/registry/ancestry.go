package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
)

const (
	DefaultNamespace = "duckietown"
	DefaultBaseOS    = "ubuntu"
	DefaultMaxDepth  = 16
)

// Inspector reads images present on the local runtime
type Inspector interface {
	InspectImage(ctx context.Context, ref string) (*types.ImageDetails, error)
}

// Remote reads images from a registry
type Remote interface {
	Lookup(ctx context.Context, ref string) (*types.ImageDetails, error)
}

// AncestryOptions control how base-image labels are followed
type AncestryOptions struct {
	// Namespace prefixes bare image names
	Namespace string
	// BaseOS ends the walk once an ancestor name contains it
	BaseOS   string
	MaxDepth int
}

// Lineage is an image together with its chain of base images
type Lineage struct {
	types.ImageDetails
	Ancestry []string `json:"ancestry"`
}

// Tracer follows base-image labels from a local image up to its base OS
type Tracer struct {
	local  Inspector
	remote Remote
	opts   AncestryOptions
}

// NewTracer creates a tracer. Zero options take the package defaults.
func NewTracer(local Inspector, remote Remote, opts AncestryOptions) *Tracer {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.BaseOS == "" {
		opts.BaseOS = DefaultBaseOS
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Tracer{local: local, remote: remote, opts: opts}
}

// Trace inspects image and walks its ancestry
func (t *Tracer) Trace(ctx context.Context, image string) (*Lineage, error) {
	logger := log.WithComponent("registry")

	if !strings.Contains(image, "/") {
		image = t.opts.Namespace + "/" + image
	}

	details, err := t.inspect(ctx, image)
	if err != nil {
		return nil, err
	}
	details.Reference = image

	out := &Lineage{ImageDetails: *details, Ancestry: []string{}}
	labels := details.Labels
	for depth := 0; depth < t.opts.MaxDepth; depth++ {
		base := t.baseFromLabels(labels)
		if base == "" {
			break
		}
		out.Ancestry = append(out.Ancestry, base)
		if strings.Contains(base, t.opts.BaseOS) {
			break
		}

		if t.remote == nil {
			return nil, errdefs.NotFoundf("no registry configured to look up %s", base)
		}
		parent, err := t.remote.Lookup(ctx, base)
		if err != nil {
			return nil, err
		}
		logger.Debug().
			Str("image", image).
			Str("ancestor", base).
			Int("depth", depth+1).
			Msg("Followed base image label")
		labels = parent.Labels
	}
	return out, nil
}

func (t *Tracer) inspect(ctx context.Context, image string) (*types.ImageDetails, error) {
	if t.local != nil {
		details, err := t.local.InspectImage(ctx, image)
		if err == nil {
			return details, nil
		}
		if !errdefs.IsNotFound(err) {
			return nil, err
		}
	}
	if t.remote == nil {
		return nil, errdefs.NotFoundf("image %s not found", image)
	}
	return t.remote.Lookup(ctx, image)
}

// baseFromLabels builds the parent reference from the first *base.image
// and *base.tag labels, in key order.
func (t *Tracer) baseFromLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var name, tag string
	for _, k := range keys {
		if name == "" && strings.Contains(k, "base.image") {
			name = labels[k]
		}
		if tag == "" && strings.Contains(k, "base.tag") {
			tag = labels[k]
		}
	}
	if name == "" {
		return ""
	}
	if !strings.Contains(name, t.opts.BaseOS) {
		name = t.opts.Namespace + "/" + name
	}
	if strings.Contains(name, ":") {
		return name
	}
	if tag == "" {
		tag = "latest"
	}
	return name + ":" + tag
}
