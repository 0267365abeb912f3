package api

import (
	"fmt"
	"time"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/gofiber/fiber/v2"
)

// HealthServer answers readiness probes from the device service
type HealthServer struct {
	device  *device.Service
	version string
}

// NewHealthServer creates a readiness checker for the given device
func NewHealthServer(dev *device.Service, version string) *HealthServer {
	return &HealthServer{device: dev, version: version}
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// Check returns the readiness of the device and its components
func (hs *HealthServer) Check() ReadyResponse {
	checks := make(map[string]string)
	ready := true
	var message string

	// Check 1: device initialization
	if hs.device == nil {
		checks["device"] = "not initialized"
		ready = false
		message = "Device service not initialized"
	} else if r := hs.device.Default(); !r.IsOk() {
		checks["device"] = fmt.Sprintf("error: %v", r.Message)
		ready = false
		message = "Device failed to initialize"
	} else {
		checks["device"] = hs.device.RobotType()
	}

	// Check 2: catalog readable
	if ready {
		if r := hs.device.ListModules(); !r.IsOk() {
			checks["catalog"] = fmt.Sprintf("error: %v", r.Message)
			ready = false
			if message == "" {
				message = "Catalog not accessible"
			}
		} else {
			checks["catalog"] = "ok"
		}
	}

	// Check 3: registered components
	components := metrics.GetReadiness()
	for name, state := range components.Components {
		checks[name] = state
	}
	if components.Status != "ready" {
		ready = false
		if message == "" {
			message = components.Message
		}
	}

	status := "ready"
	if !ready {
		status = "not ready"
	}
	return ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   hs.version,
		Checks:    checks,
		Message:   message,
	}
}

// readyHandler implements the /ready endpoint
func (hs *HealthServer) readyHandler(c *fiber.Ctx) error {
	resp := hs.Check()
	code := fiber.StatusOK
	if resp.Status != "ready" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(resp)
}
