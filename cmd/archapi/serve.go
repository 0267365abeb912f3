package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/archapi/pkg/api"
	"github.com/cuemby/archapi/pkg/catalog"
	"github.com/cuemby/archapi/pkg/config"
	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/discovery"
	"github.com/cuemby/archapi/pkg/events"
	"github.com/cuemby/archapi/pkg/fleet"
	"github.com/cuemby/archapi/pkg/ledger"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/cuemby/archapi/pkg/orchestrator"
	"github.com/cuemby/archapi/pkg/registry"
	"github.com/cuemby/archapi/pkg/resolver"
	"github.com/cuemby/archapi/pkg/runtime"
	"github.com/cuemby/archapi/pkg/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device API",
	Long: `Run the device and fleet API on this robot.

The robot type is read from the configuration, the ROBOT_TYPE variable or
the robot type files. When none is found the API still starts and reports
the problem from its default route.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "API port (overrides the configuration)")
	serveCmd.Flags().Bool("read-only", false, "Refuse every mutating route")
	serveCmd.Flags().Bool("announce", false, "Announce this device over mDNS")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.API.Port = port
	}
	if ro, _ := cmd.Flags().GetBool("read-only"); ro {
		cfg.API.ReadOnly = true
	}
	if an, _ := cmd.Flags().GetBool("announce"); an {
		cfg.Discovery.Announce = true
	}
	if err := cfg.ResolveHostname(); err != nil {
		return err
	}

	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	// a missing robot type is reported by the API rather than failing startup
	var initErr error
	if err := cfg.DetectRobotType(); err != nil {
		initErr = err
		logger.Error().Err(err).Msg("Robot type unknown")
	}
	// ${ARCH} tokens keep their own default when no arch is configured
	arch := cfg.Arch
	if arch == "" {
		arch = catalog.HostArch()
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.New(catalog.Options{
		Root: cfg.DataDir,
		Arch: cfg.Arch,
		OnChange: func(module string) {
			broker.Publish(&events.Event{
				Type:     events.EventCatalogChanged,
				Message:  "module definition changed",
				Metadata: map[string]string{"module": module},
			})
		},
	})
	if err != nil {
		metrics.RegisterComponent("catalog", false, err.Error())
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	metrics.RegisterComponent("catalog", true, "")
	go func() {
		if err := cat.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("Module watcher stopped")
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	led := ledger.New(store, uuid.NewString())
	led.SetBroker(broker)

	rt, err := newRuntime(cfg)
	if err != nil {
		metrics.RegisterComponent("runtime", false, err.Error())
		return err
	}
	defer rt.Close()
	metrics.RegisterComponent("runtime", true, "")

	orch := orchestrator.New(orchestrator.Config{
		Runtime:     rt,
		Ledger:      led,
		StopTimeout: cfg.Runtime.StopTimeout,
	})
	orch.Start()
	defer orch.Stop()

	remote := registry.New(registry.Config{
		RegistryURL: cfg.Registry.URL,
		AuthURL:     cfg.Registry.AuthURL,
		Service:     cfg.Registry.Service,
		Timeout:     cfg.Registry.Timeout,
		RetryMax:    cfg.Registry.RetryMax,
		Platform:    registry.HostPlatform(),
	})
	tracer := registry.NewTracer(rt, remote, registry.AncestryOptions{
		Namespace: cfg.Registry.Namespace,
		BaseOS:    cfg.Registry.BaseOS,
		MaxDepth:  cfg.Registry.MaxDepth,
	})

	res := resolver.New(cat, cfg.RobotType)
	svc := device.New(device.Options{
		Hostname:     cfg.Hostname,
		RobotType:    cfg.RobotType,
		Arch:         arch,
		Version:      Version,
		Catalog:      cat,
		Resolver:     res,
		Orchestrator: orch,
		Tracer:       tracer,
		InitError:    initErr,
	})

	fl := fleet.New(fleet.Config{
		Local:  svc,
		Fleets: fleet.NewFiles(cfg.FleetDir),
		Members: fleet.NewHTTPMembers(fleet.HTTPConfig{
			Port:       cfg.Fleet.Port,
			HostSuffix: cfg.Fleet.HostSuffix,
			RetryMax:   cfg.Fleet.RetryMax,
			Timeout:    cfg.Fleet.MemberTimeout,
		}),
		Scanner:       discovery.NewZeroconf(cfg.Discovery.Timeout),
		Resolver:      res,
		Storage:       store,
		Broker:        broker,
		MemberTimeout: cfg.Fleet.MemberTimeout,
		Concurrency:   cfg.Fleet.Concurrency,
	})

	collector := metrics.NewCollector(led, broker)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(api.Config{
		Device:   svc,
		Fleet:    fl,
		ReadOnly: cfg.API.ReadOnly,
		Version:  Version,
	})
	addr := net.JoinHostPort(cfg.API.Address, strconv.Itoa(cfg.API.Port))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(addr)
	}()
	metrics.RegisterComponent("api", true, "")

	if cfg.Discovery.Announce {
		announcer, err := discovery.Announce(cfg.Hostname, cfg.API.Port, map[string]any{
			"robot_type": cfg.RobotType,
			"version":    Version,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to announce device")
		} else {
			defer announcer.Stop()
		}
	}

	logger.Info().
		Str("hostname", cfg.Hostname).
		Str("robot_type", cfg.RobotType).
		Str("arch", arch).
		Str("runtime", cfg.Runtime.Backend).
		Str("address", addr).
		Msg("archapi is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("API server stopped")
	}

	metrics.UpdateComponent("api", false, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop API server")
	}
	return runErr
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.StateDir == "" {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return storage.NewBoltStore(cfg.StateDir)
}

func newRuntime(cfg *config.Config) (runtime.Runtime, error) {
	switch cfg.Runtime.Backend {
	case config.RuntimeDocker:
		return runtime.NewDockerRuntime(cfg.Runtime.DockerHost)
	case config.RuntimeContainerd:
		return runtime.NewContainerdRuntime(cfg.Runtime.ContainerdSocket, cfg.Runtime.Namespace)
	case config.RuntimeMemory:
		return runtime.NewMemoryRuntime(), nil
	default:
		return nil, errors.New("unknown runtime backend " + cfg.Runtime.Backend)
	}
}
