package api

import (
	"strings"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/gofiber/fiber/v2"
)

// mutatingRoutes are the route prefixes that start jobs or change device state
var mutatingRoutes = []string{
	"/device/configuration/set/",
	"/device/pull/",
	"/device/clear",
	"/fleet/configuration/set/",
}

// ReadOnlyGuard creates a middleware that refuses mutating routes.
// Refusals are regular error envelopes so clients handle them like any
// other failed call.
func ReadOnlyGuard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isMutatingPath(c.Path()) {
			return respond(c, device.Error("write operations are disabled on this device", nil))
		}
		return c.Next()
	}
}

// isMutatingPath checks if a request path changes device state
func isMutatingPath(path string) bool {
	for _, prefix := range mutatingRoutes {
		if strings.HasPrefix(path, prefix) {
			// /device/clearance is a read
			if prefix == "/device/clear" && path != "/device/clear" && path != "/device/clear/" {
				continue
			}
			return true
		}
	}
	return false
}
