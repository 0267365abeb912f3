package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/cuemby/archapi/pkg/runtime"
	"github.com/cuemby/archapi/pkg/types"
)

// plan is the ordered list of runtime actions for one configuration
type plan struct {
	remove []types.ContainerStatus
	pull   []string
	start  []string // instance names, sorted
}

func (p *plan) steps() int {
	return len(p.remove) + len(p.pull) + len(p.start)
}

// containerName is the engine name a module instance runs under
func containerName(instance string, spec types.ContainerSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return instance
}

// buildPlan decides which containers go away and which images are missing.
// Every managed container is superseded, as is anything holding a name a
// module needs.
func (o *Orchestrator) buildPlan(ctx context.Context, rc *types.ResolvedConfiguration) (*plan, error) {
	p := &plan{start: rc.InstanceNames()}

	wanted := make(map[string]bool, len(p.start))
	for _, instance := range p.start {
		wanted[containerName(instance, rc.Modules[instance].Configuration)] = true
	}

	existing, err := o.runtime.ListContainers(ctx)
	if err != nil {
		return nil, errdefs.Action(err, "failed to list containers")
	}
	for _, c := range existing {
		if c.Managed || wanted[c.Name] {
			p.remove = append(p.remove, c)
		}
	}

	seen := make(map[string]bool)
	for _, instance := range p.start {
		image := rc.Modules[instance].Configuration.Image
		if seen[image] {
			continue
		}
		seen[image] = true

		ok, err := o.runtime.ImageExists(ctx, image)
		if err != nil {
			return nil, errdefs.Action(err, "failed to check image %s", image)
		}
		if !ok {
			p.pull = append(p.pull, image)
		}
	}
	sort.Strings(p.pull)
	return p, nil
}

// applyConfiguration replaces the managed containers with the modules of rc
func (o *Orchestrator) applyConfiguration(ctx context.Context, job *types.Job, rc *types.ResolvedConfiguration) error {
	p, err := o.buildPlan(ctx, rc)
	if err != nil {
		return err
	}

	total := p.steps()
	done := 0
	step := func(msg string) {
		done++
		_ = o.ledger.Record(job.ID, msg)
		_ = o.ledger.UpdateProgress(job.ID, done*100/total)
	}
	_ = o.ledger.Record(job.ID, fmt.Sprintf("plan: remove %d, pull %d, start %d", len(p.remove), len(p.pull), len(p.start)))

	for _, c := range p.remove {
		if err := o.timed(ctx, "stop", func() error {
			return o.runtime.StopContainer(ctx, c.ID, o.stopTimeout)
		}); err != nil {
			return errdefs.Action(err, "failed to stop container %s", c.Name)
		}
		if err := o.timed(ctx, "remove", func() error {
			return o.runtime.RemoveContainer(ctx, c.ID)
		}); err != nil {
			return errdefs.Action(err, "failed to remove container %s", c.Name)
		}
		step("removed container " + c.Name)
	}

	for _, image := range p.pull {
		_ = o.ledger.Record(job.ID, "pulling image "+image)
		if err := o.timed(ctx, "pull", func() error {
			return o.runtime.PullImage(ctx, image)
		}); err != nil {
			return errdefs.Action(err, "failed to pull image %s", image)
		}
		step("pulled image " + image)
	}

	for _, instance := range p.start {
		spec := rc.Modules[instance].Configuration
		name := containerName(instance, spec)
		labels := runtime.ManagedLabels(rc.Name, instance)

		if err := o.timed(ctx, "run", func() error {
			_, err := o.runtime.RunContainer(ctx, name, spec, labels)
			return err
		}); err != nil {
			return errdefs.Action(err, "failed to start module %s", instance)
		}
		step(fmt.Sprintf("started module %s (%s)", instance, spec.Image))
	}
	return nil
}

// pullImage pulls a single image
func (o *Orchestrator) pullImage(ctx context.Context, job *types.Job, ref string) error {
	_ = o.ledger.Record(job.ID, "pulling image "+ref)
	if err := o.timed(ctx, "pull", func() error {
		return o.runtime.PullImage(ctx, ref)
	}); err != nil {
		return errdefs.Action(err, "failed to pull image %s", ref)
	}
	_ = o.ledger.Record(job.ID, "pulled image "+ref)
	return nil
}

// timed runs a runtime action, recording its duration and failures. A
// cancelled context is reported as the action's error.
func (o *Orchestrator) timed(ctx context.Context, action string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := metrics.NewTimer()
	err := fn()
	timer.ObserveDurationVec(metrics.ContainerActionDuration, action)
	if err != nil {
		metrics.ContainerActionErrors.WithLabelValues(action).Inc()
	}
	return err
}
