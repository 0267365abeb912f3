package resolver

import (
	"fmt"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/rs/zerolog"
)

// Source provides configuration and module definitions
type Source interface {
	Configuration(robotType, name string) (*types.ConfigurationDefinition, error)
	Module(typ string) (*types.ModuleDefinition, error)
}

// Resolver turns configuration names into launch plans
type Resolver struct {
	source    Source
	robotType string
	logger    zerolog.Logger
}

// New creates a resolver for a device of the given robot type
func New(source Source, robotType string) *Resolver {
	return &Resolver{
		source:    source,
		robotType: robotType,
		logger:    log.WithComponent("resolver"),
	}
}

// RobotType returns the robot type Resolve uses
func (r *Resolver) RobotType() string {
	return r.robotType
}

// Resolve resolves a configuration for this device's robot type
func (r *Resolver) Resolve(name string) (*types.ResolvedConfiguration, error) {
	return r.ResolveFor(r.robotType, name)
}

// ResolveFor resolves a configuration for an arbitrary robot type.
// Every referenced module type must exist; instance overrides win over the
// module definition and environments are merged per key.
func (r *Resolver) ResolveFor(robotType, name string) (*types.ResolvedConfiguration, error) {
	def, err := r.source.Configuration(robotType, name)
	if err != nil {
		return nil, err
	}

	resolved := &types.ResolvedConfiguration{
		Name:        name,
		RobotType:   robotType,
		Description: def.Description,
		Modules:     make(map[string]*types.ResolvedModule, len(def.Modules)),
		Devices:     make(map[string]types.DeviceRequirement, len(def.Devices)),
	}
	for kind, req := range def.Devices {
		resolved.Devices[kind] = req
	}

	for instance, m := range def.Modules {
		mod, err := r.source.Module(m.Type)
		if err != nil {
			if errdefs.IsNotFound(err) {
				return nil, errdefs.NotFoundf("configuration %s references unknown module type %s", name, m.Type)
			}
			return nil, fmt.Errorf("failed to load module %s for instance %s: %w", m.Type, instance, err)
		}

		spec := mod.Configuration.Clone()
		applyOverrides(&spec, m.Overrides)
		resolved.Modules[instance] = &types.ResolvedModule{
			Type:          m.Type,
			Configuration: spec,
		}
	}

	r.logger.Debug().
		Str("configuration", name).
		Str("robot_type", robotType).
		Int("modules", len(resolved.Modules)).
		Msg("Configuration resolved")

	return resolved, nil
}

// applyOverrides merges instance-level fields into spec
func applyOverrides(spec *types.ContainerSpec, o types.Overrides) {
	if o.Command != nil {
		spec.Command = append(types.Command(nil), o.Command...)
	}
	if o.Privileged != nil {
		spec.Privileged = *o.Privileged
	}
	if o.MemLimit != nil {
		spec.MemLimit = *o.MemLimit
	}
	if o.MemswapLimit != nil {
		spec.MemswapLimit = *o.MemswapLimit
	}
	if o.RestartPolicy != nil {
		rp := *o.RestartPolicy
		spec.RestartPolicy = &rp
	}
	if o.Detach != nil {
		spec.Detach = *o.Detach
	}
	if o.TTY != nil {
		spec.TTY = *o.TTY
	}
	if o.StdinOpen != nil {
		spec.StdinOpen = *o.StdinOpen
	}
	if len(o.Environment) > 0 {
		if spec.Environment == nil {
			spec.Environment = make(types.Environment, len(o.Environment))
		}
		for k, v := range o.Environment {
			spec.Environment[k] = v
		}
	}
}
