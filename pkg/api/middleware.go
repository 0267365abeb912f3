package api

import (
	"strconv"
	"time"

	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const envelopeStatusKey = "envelope_status"

// requestLogger logs every request and records the API metrics.
// The status label is the envelope status when the route produced one,
// otherwise the HTTP status code.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		route := c.Route().Path
		status, _ := c.Locals(envelopeStatusKey).(string)
		if status == "" {
			status = strconv.Itoa(c.Response().StatusCode())
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Method(), route, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Method(), route).Observe(elapsed.Seconds())

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("route", route).
			Str("status", status).
			Dur("duration", elapsed).
			Msg("API request")
		return err
	}
}
