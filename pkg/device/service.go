package device

import (
	"context"
	"fmt"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/orchestrator"
	"github.com/cuemby/archapi/pkg/registry"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/rs/zerolog"
)

// Catalog lists the configuration and module files of the device
type Catalog interface {
	ListConfigurations(robotType string) ([]string, error)
	ListModules() ([]string, error)
	Module(typ string) (*types.ModuleDefinition, error)
}

// Resolver materializes configurations for the device's robot type
type Resolver interface {
	Resolve(name string) (*types.ResolvedConfiguration, error)
}

// Tracer walks image ancestry
type Tracer interface {
	Trace(ctx context.Context, image string) (*registry.Lineage, error)
}

// Options configures a Service
type Options struct {
	Hostname     string
	RobotType    string
	Arch         string
	Version      string
	Catalog      Catalog
	Resolver     Resolver
	Orchestrator *orchestrator.Orchestrator
	Tracer       Tracer

	// InitError is reported by Default when the device could not be set up,
	// for example because its robot type is unknown
	InitError error
}

// DeviceInfo describes the device in the default response
type DeviceInfo struct {
	Hostname  string `json:"hostname"`
	RobotType string `json:"robot_type"`
	Arch      string `json:"arch"`
	Instance  string `json:"instance"`
	Version   string `json:"version,omitempty"`
}

// Service is the per-device configuration API
type Service struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a device service
func New(opts Options) *Service {
	return &Service{
		opts:   opts,
		logger: log.WithDevice(opts.Hostname),
	}
}

// Hostname returns the device hostname
func (s *Service) Hostname() string {
	return s.opts.Hostname
}

// RobotType returns the device robot type
func (s *Service) RobotType() string {
	return s.opts.RobotType
}

// Instance returns the boot instance id of the device's ledger
func (s *Service) Instance() string {
	return s.opts.Orchestrator.Ledger().Instance()
}

// Default describes the device, or reports why it failed to initialize
func (s *Service) Default() Result {
	if s.opts.InitError != nil {
		return Error(s.opts.InitError.Error(), nil)
	}
	return Ok(DeviceInfo{
		Hostname:  s.opts.Hostname,
		RobotType: s.opts.RobotType,
		Arch:      s.opts.Arch,
		Instance:  s.Instance(),
		Version:   s.opts.Version,
	})
}

// ListConfigurations lists the configurations available for the robot type
func (s *Service) ListConfigurations() Result {
	names, err := s.opts.Catalog.ListConfigurations(s.opts.RobotType)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Error(fmt.Sprintf("could not find configurations for %s", s.opts.RobotType), nil)
		}
		return Failure(err)
	}
	return Ok(map[string]any{"configurations": names})
}

// ConfigurationInfo returns the resolved configuration
func (s *Service) ConfigurationInfo(name string) Result {
	rc, err := s.opts.Resolver.Resolve(name)
	if err != nil {
		return Failure(err)
	}
	return Ok(rc)
}

// ListModules lists the module types known to the device
func (s *Service) ListModules() Result {
	names, err := s.opts.Catalog.ListModules()
	if err != nil {
		return Failure(err)
	}
	return Ok(map[string]any{"modules": names})
}

// ModuleInfo returns the normalized module definition
func (s *Service) ModuleInfo(typ string) Result {
	def, err := s.opts.Catalog.Module(typ)
	if err != nil {
		return Failure(err)
	}
	return Ok(def)
}

// ConfigurationStatus reports the containers on the device keyed by name
func (s *Service) ConfigurationStatus(ctx context.Context) Result {
	containers, err := s.opts.Orchestrator.ContainerStatus(ctx)
	if err != nil {
		return Failure(err)
	}
	out := make(map[string]types.ContainerStatus, len(containers))
	for _, c := range containers {
		out[c.Name] = c
	}
	return Ok(out)
}

// Resolve materializes a configuration for this device
func (s *Service) Resolve(name string) (*types.ResolvedConfiguration, error) {
	return s.opts.Resolver.Resolve(name)
}

// SetConfiguration resolves name and admits a job applying it
func (s *Service) SetConfiguration(name string) Result {
	rc, err := s.opts.Resolver.Resolve(name)
	if err != nil {
		return Failure(err)
	}
	return s.SetResolved(rc)
}

// SetResolved admits a job applying an already resolved configuration
func (s *Service) SetResolved(rc *types.ResolvedConfiguration) Result {
	ticket, err := s.opts.Orchestrator.SetConfiguration(rc)
	return s.ticketResult(ticket, err, "configuration", rc.Name)
}

// PullImage admits a job pulling ref
func (s *Service) PullImage(ref string) Result {
	if ref == "" {
		return Failure(errdefs.Invalidf("image reference is empty"))
	}
	ticket, err := s.opts.Orchestrator.PullImage(ref)
	return s.ticketResult(ticket, err, "image", ref)
}

func (s *Service) ticketResult(ticket orchestrator.Ticket, err error, field, value string) Result {
	if err != nil {
		s.logger.Error().Err(err).Str(field, value).Msg("Failed to admit job")
		return Failure(err)
	}
	if ticket.Busy() {
		s.logger.Info().Str(field, value).Int64("job_id", ticket.JobID).Msg("Device busy, job refused")
		return Busy(ticket.JobID)
	}
	return Ok(ticket)
}

// Job returns a job of this device's ledger
func (s *Service) Job(id int64) (*types.Job, error) {
	return s.opts.Orchestrator.Status(id)
}

// Monitor returns the job with the given id. An unknown id is answered with
// the whole ledger in the message so callers can discover valid ids.
func (s *Service) Monitor(id int64) Result {
	job, err := s.opts.Orchestrator.Status(id)
	if err != nil {
		return Info(s.opts.Orchestrator.Ledger().Snapshot())
	}
	return Ok(job)
}

// ClearJobs cancels the running job and empties the ledger
func (s *Service) ClearJobs(ctx context.Context) Result {
	n, err := s.opts.Orchestrator.ClearJobs(ctx)
	if err != nil {
		return Failure(err)
	}
	s.logger.Info().Int("jobs", n).Msg("Cleared job ledger")
	return Ok(map[string]any{"cleared": n})
}

// Clearance reports whether the device would admit a new job
func (s *Service) Clearance() Result {
	c := s.opts.Orchestrator.Clearance()
	data := map[string]any{}
	if c.Status == orchestrator.ClearanceBusy {
		data["job_id"] = c.JobID
	}
	return Result{Kind: KindOk, Data: data}.WithStatus(c.Status)
}

// ImageInfo returns an image's labels, digest and base-image ancestry.
// Every failure is reported in the result.
func (s *Service) ImageInfo(ctx context.Context, image string) Result {
	if s.opts.Tracer == nil {
		return Error("image lookups are not configured", nil)
	}
	lineage, err := s.opts.Tracer.Trace(ctx, image)
	if err != nil {
		s.logger.Warn().Err(err).Str("image", image).Msg("Image ancestry lookup failed")
		return Error(err.Error(), nil)
	}
	return Result{Kind: KindOk, Data: lineage}
}
