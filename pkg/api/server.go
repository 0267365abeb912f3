package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/fleet"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
)

// DefaultClearTimeout bounds how long /device/clear waits for a running job
const DefaultClearTimeout = 30 * time.Second

// Config configures the API server
type Config struct {
	Device *device.Service
	// Fleet is optional; without it the /fleet routes are not served
	Fleet *fleet.Orchestrator
	// ReadOnly refuses every mutating route
	ReadOnly     bool
	Version      string
	ClearTimeout time.Duration
}

// Server exposes the device and fleet APIs over HTTP
type Server struct {
	app    *fiber.App
	device *device.Service
	fleet  *fleet.Orchestrator
	health *HealthServer
	cfg    Config
	logger zerolog.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(cfg Config) *Server {
	if cfg.ClearTimeout <= 0 {
		cfg.ClearTimeout = DefaultClearTimeout
	}
	s := &Server{
		device: cfg.Device,
		fleet:  cfg.Fleet,
		health: NewHealthServer(cfg.Device, cfg.Version),
		cfg:    cfg,
		logger: log.WithComponent("api"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "archapi",
		DisableStartupMessage: true,
		UnescapePath:          true,
		// params outlive the request in jobs and fleet records
		Immutable:             true,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("address", addr).Bool("read_only", s.cfg.ReadOnly).Msg("API listening")
	if err := s.app.Listen(addr); err != nil {
		return fmt.Errorf("failed to serve API: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(requestLogger(s.logger))
	if s.cfg.ReadOnly {
		s.app.Use(ReadOnlyGuard())
	}

	s.app.Get("/health", adaptor.HTTPHandlerFunc(metrics.HealthHandler()))
	s.app.Get("/live", adaptor.HTTPHandlerFunc(metrics.LivenessHandler()))
	s.app.Get("/ready", s.health.readyHandler)
	s.app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	d := s.app.Group("/device")
	d.Get("/", s.deviceDefault)
	d.Get("/configuration/status", s.configurationStatus)
	d.Get("/configuration/list", s.configurationList)
	d.Get("/configuration/info/:config", s.configurationInfo)
	d.Get("/configuration/set/:config", s.configurationSet)
	d.Get("/module/list", s.moduleList)
	d.Get("/module/info/:module", s.moduleInfo)
	d.Get("/pull/*", s.pullImage)
	d.Get("/monitor/:id", s.monitor)
	d.Get("/clearance", s.clearance)
	d.Get("/clear", s.clearJobs)
	d.Get("/image/info/*", s.imageInfo)

	if s.fleet == nil {
		return
	}
	f := s.app.Group("/fleet")
	f.Get("/scan", s.fleetScan)
	f.Get("/list", s.fleetList)
	f.Get("/info/:fleet", s.fleetInfo)
	f.Get("/default/:fleet", s.fleetDefault)
	f.Get("/configuration/status/:fleet", s.fleetConfigurationStatus)
	f.Get("/configuration/info/:config", s.fleetConfigurationInfo)
	f.Get("/configuration/set/:config/:fleet", s.fleetConfigurationSet)
	f.Get("/monitor/:id/:fleet", s.fleetMonitor)
}

// respond writes a result as its envelope. Envelopes always travel with
// status 200; the outcome is in the envelope status.
func respond(c *fiber.Ctx, r device.Result) error {
	env := r.Envelope()
	c.Locals(envelopeStatusKey, env.Status)
	return c.Status(fiber.StatusOK).JSON(env)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	return c.Status(code).JSON(device.Error(err.Error(), nil).Envelope())
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errdefs.Invalidf("invalid job id %q", raw)
	}
	return id, nil
}

func (s *Server) deviceDefault(c *fiber.Ctx) error {
	return respond(c, s.device.Default())
}

func (s *Server) configurationStatus(c *fiber.Ctx) error {
	return respond(c, s.device.ConfigurationStatus(c.UserContext()))
}

func (s *Server) configurationList(c *fiber.Ctx) error {
	return respond(c, s.device.ListConfigurations())
}

func (s *Server) configurationInfo(c *fiber.Ctx) error {
	return respond(c, s.device.ConfigurationInfo(c.Params("config")))
}

func (s *Server) configurationSet(c *fiber.Ctx) error {
	return respond(c, s.device.SetConfiguration(c.Params("config")))
}

func (s *Server) moduleList(c *fiber.Ctx) error {
	return respond(c, s.device.ListModules())
}

func (s *Server) moduleInfo(c *fiber.Ctx) error {
	return respond(c, s.device.ModuleInfo(c.Params("module")))
}

func (s *Server) pullImage(c *fiber.Ctx) error {
	return respond(c, s.device.PullImage(c.Params("*")))
}

func (s *Server) monitor(c *fiber.Ctx) error {
	id, err := parseJobID(c.Params("id"))
	if err != nil {
		return respond(c, device.Failure(err))
	}
	return respond(c, s.device.Monitor(id))
}

func (s *Server) clearance(c *fiber.Ctx) error {
	return respond(c, s.device.Clearance())
}

func (s *Server) clearJobs(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.ClearTimeout)
	defer cancel()
	return respond(c, s.device.ClearJobs(ctx))
}

func (s *Server) imageInfo(c *fiber.Ctx) error {
	return respond(c, s.device.ImageInfo(c.UserContext(), c.Params("*")))
}

func (s *Server) fleetScan(c *fiber.Ctx) error {
	return respond(c, s.fleet.FleetScan(c.UserContext()))
}

func (s *Server) fleetList(c *fiber.Ctx) error {
	return respond(c, s.fleet.ListFleets())
}

func (s *Server) fleetInfo(c *fiber.Ctx) error {
	return respond(c, s.fleet.FleetInfo(c.Params("fleet")))
}

func (s *Server) fleetDefault(c *fiber.Ctx) error {
	return respond(c, s.fleet.DefaultResponse(c.UserContext(), c.Params("fleet")))
}

func (s *Server) fleetConfigurationStatus(c *fiber.Ctx) error {
	return respond(c, s.fleet.ConfigurationStatus(c.UserContext(), c.Params("fleet")))
}

func (s *Server) fleetConfigurationInfo(c *fiber.Ctx) error {
	return respond(c, s.fleet.ConfigurationInfo(c.Params("config")))
}

func (s *Server) fleetConfigurationSet(c *fiber.Ctx) error {
	return respond(c, s.fleet.ConfigurationSetConfig(c.UserContext(), c.Params("config"), c.Params("fleet")))
}

func (s *Server) fleetMonitor(c *fiber.Ctx) error {
	id, err := parseJobID(c.Params("id"))
	if err != nil {
		return respond(c, device.Failure(err))
	}
	return respond(c, s.fleet.MonitorID(c.UserContext(), id, c.Params("fleet")))
}
