package types

import (
	"sort"
	"time"
)

// ContainerSpec is a normalized container launch specification.
// Ports map an internal port ("80" or "53/udp") to its published host port.
// Volumes map a host path to its bind target.
type ContainerSpec struct {
	Image         string                `json:"image" yaml:"image"`
	Name          string                `json:"name,omitempty" yaml:"name,omitempty"`
	Command       Command               `json:"command,omitempty" yaml:"command,omitempty"`
	Ports         map[string]int        `json:"ports,omitempty" yaml:"ports,omitempty"`
	Volumes       map[string]VolumeBind `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Environment   Environment           `json:"environment,omitempty" yaml:"environment,omitempty"`
	RestartPolicy *RestartPolicy        `json:"restart_policy,omitempty" yaml:"restart_policy,omitempty"`
	Privileged    bool                  `json:"privileged,omitempty" yaml:"privileged,omitempty"`
	MemLimit      string                `json:"mem_limit,omitempty" yaml:"mem_limit,omitempty"`
	MemswapLimit  string                `json:"memswap_limit,omitempty" yaml:"memswap_limit,omitempty"`
	Detach        bool                  `json:"detach" yaml:"detach"`
	TTY           bool                  `json:"tty,omitempty" yaml:"tty,omitempty"`
	StdinOpen     bool                  `json:"stdin_open,omitempty" yaml:"stdin_open,omitempty"`
	NetworkMode   string                `json:"network_mode,omitempty" yaml:"network_mode,omitempty"`
	Labels        map[string]string     `json:"labels,omitempty" yaml:"labels,omitempty"`
	Extra         map[string]any        `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// VolumeBind is the container side of a host path bind mount
type VolumeBind struct {
	Target string `json:"target" yaml:"target"`
	Mode   string `json:"mode" yaml:"mode"` // "rw" or "ro"
}

// RestartPolicy mirrors the container engine restart policy object
type RestartPolicy struct {
	Name              string `json:"Name" yaml:"Name"`
	MaximumRetryCount int    `json:"MaximumRetryCount,omitempty" yaml:"MaximumRetryCount,omitempty"`
}

// Clone returns a deep copy of the spec
func (s ContainerSpec) Clone() ContainerSpec {
	out := s
	if s.Command != nil {
		out.Command = append(Command(nil), s.Command...)
	}
	if s.Ports != nil {
		out.Ports = make(map[string]int, len(s.Ports))
		for k, v := range s.Ports {
			out.Ports[k] = v
		}
	}
	if s.Volumes != nil {
		out.Volumes = make(map[string]VolumeBind, len(s.Volumes))
		for k, v := range s.Volumes {
			out.Volumes[k] = v
		}
	}
	if s.Environment != nil {
		out.Environment = make(Environment, len(s.Environment))
		for k, v := range s.Environment {
			out.Environment[k] = v
		}
	}
	if s.RestartPolicy != nil {
		rp := *s.RestartPolicy
		out.RestartPolicy = &rp
	}
	if s.Labels != nil {
		out.Labels = make(map[string]string, len(s.Labels))
		for k, v := range s.Labels {
			out.Labels[k] = v
		}
	}
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ModuleDefinition is a deployable container unit keyed by its type
type ModuleDefinition struct {
	Type          string        `json:"type" yaml:"type"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Configuration ContainerSpec `json:"configuration" yaml:"configuration"`
}

// ModuleInstance references a module type from a configuration,
// optionally overriding runtime flags of the module definition.
type ModuleInstance struct {
	Type      string `json:"type" yaml:"type"`
	Overrides `yaml:",inline"`
}

// Overrides are the instance-level fields that win over the module definition
type Overrides struct {
	Command       Command        `json:"command,omitempty" yaml:"command,omitempty"`
	Privileged    *bool          `json:"privileged,omitempty" yaml:"privileged,omitempty"`
	MemLimit      *string        `json:"mem_limit,omitempty" yaml:"mem_limit,omitempty"`
	MemswapLimit  *string        `json:"memswap_limit,omitempty" yaml:"memswap_limit,omitempty"`
	Environment   Environment    `json:"environment,omitempty" yaml:"environment,omitempty"`
	RestartPolicy *RestartPolicy `json:"restart_policy,omitempty" yaml:"restart_policy,omitempty"`
	Detach        *bool          `json:"detach,omitempty" yaml:"detach,omitempty"`
	TTY           *bool          `json:"tty,omitempty" yaml:"tty,omitempty"`
	StdinOpen     *bool          `json:"stdin_open,omitempty" yaml:"stdin_open,omitempty"`
}

// DeviceRequirement names the sub-configuration a device kind runs
// when the enclosing configuration is applied to a fleet.
type DeviceRequirement struct {
	Configuration string `json:"configuration" yaml:"configuration"`
}

// ConfigurationDefinition is a named set of module instances for one robot type
type ConfigurationDefinition struct {
	Name        string                       `json:"name" yaml:"-"`
	RobotType   string                       `json:"robot_type" yaml:"-"`
	Description string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Modules     map[string]ModuleInstance    `json:"modules" yaml:"modules"`
	Devices     map[string]DeviceRequirement `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// ResolvedModule is a module instance merged with its definition
type ResolvedModule struct {
	Type          string        `json:"type" yaml:"type"`
	Configuration ContainerSpec `json:"configuration" yaml:"configuration"`
}

// ResolvedConfiguration is the launch plan derived from a configuration.
// It is never persisted.
type ResolvedConfiguration struct {
	Name        string                       `json:"name" yaml:"name"`
	RobotType   string                       `json:"robot_type" yaml:"robot_type"`
	Description string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Modules     map[string]*ResolvedModule   `json:"modules" yaml:"modules"`
	Devices     map[string]DeviceRequirement `json:"devices,omitempty" yaml:"devices,omitempty"`
}

// InstanceNames returns the module instance names in launch order
func (r *ResolvedConfiguration) InstanceNames() []string {
	names := make([]string, 0, len(r.Modules))
	for name := range r.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobStatus represents the state of an asynchronous job
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusError      JobStatus = "error"
	JobStatusTerminated JobStatus = "terminated"
)

// Terminal reports whether no further transitions are possible
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError || s == JobStatusTerminated
}

// JobKind is the kind of mutating work a job performs
type JobKind string

const (
	JobKindSetConfiguration JobKind = "set-configuration"
	JobKindPullImage        JobKind = "pull-image"
)

// LogEntry is a single timestamped job log line
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Job is one asynchronous unit of mutating work on a device
type Job struct {
	ID           int64      `json:"id"`
	Kind         JobKind    `json:"kind"`
	Target       string     `json:"target"`
	Instance     string     `json:"instance"`
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Log          []LogEntry `json:"log"`
	TimeStarted  time.Time  `json:"time_started"`
	TimeFinished *time.Time `json:"time_finished,omitempty"`
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	out := *j
	out.Log = append([]LogEntry(nil), j.Log...)
	if j.TimeFinished != nil {
		tf := *j.TimeFinished
		out.TimeFinished = &tf
	}
	return &out
}

// ContainerStatus reports a container managed on a device
type ContainerStatus struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	State         string `json:"state"`
	Status        string `json:"status,omitempty"`
	Configuration string `json:"configuration,omitempty"`
	Module        string `json:"module,omitempty"`
	Managed       bool   `json:"managed"`
}

// ImageDetails describes a locally present or remote image
type ImageDetails struct {
	Reference string            `json:"image"`
	Digest    string            `json:"sha"`
	Labels    map[string]string `json:"Labels"`
}

// FleetDevice is one member of a fleet
type FleetDevice struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// Fleet is a named, ordered set of devices operated on as a group
type Fleet struct {
	Name    string        `json:"name"`
	Devices []FleetDevice `json:"devices"`
}

// Hostnames returns the member hostnames in declaration order
func (f *Fleet) Hostnames() []string {
	names := make([]string, 0, len(f.Devices))
	for _, d := range f.Devices {
		names = append(names, d.Hostname)
	}
	return names
}

// Without returns the members excluding the given hostname
func (f *Fleet) Without(hostname string) []string {
	names := make([]string, 0, len(f.Devices))
	for _, d := range f.Devices {
		if d.Hostname != hostname {
			names = append(names, d.Hostname)
		}
	}
	return names
}

// Partition splits the members into those present in online and the rest
func (f *Fleet) Partition(online map[string]bool) (up, down []string) {
	for _, d := range f.Devices {
		if online[d.Hostname] {
			up = append(up, d.Hostname)
		} else {
			down = append(down, d.Hostname)
		}
	}
	return up, down
}

// FleetCorrelationRecord links a fleet-wide operation to the per-device jobs it started
type FleetCorrelationRecord struct {
	Fleet         string           `json:"fleet"`
	Configuration string           `json:"configuration"`
	JobID         int64            `json:"job_id"`
	Instance      string           `json:"instance"`
	Devices       map[string]int64 `json:"devices"`
	CreatedAt     time.Time        `json:"created_at"`
}
