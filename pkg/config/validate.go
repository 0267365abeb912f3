package config

import (
	"fmt"
	"strings"

	"github.com/cuemby/archapi/pkg/log"
)

// ValidationError is one invalid field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 1 {
		return ve[0].Error()
	}
	messages := make([]string, 0, len(ve))
	for _, e := range ve {
		messages = append(messages, e.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (ve *ValidationErrors) add(field, format string, args ...any) {
	*ve = append(*ve, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration, returning ValidationErrors
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.DataDir == "" {
		errs.add("data_dir", "is required")
	}
	if c.FleetDir == "" {
		errs.add("fleet_dir", "is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs.add("api.port", "must be between 1 and 65535, got %d", c.API.Port)
	}
	if c.Fleet.Port < 1 || c.Fleet.Port > 65535 {
		errs.add("fleet.port", "must be between 1 and 65535, got %d", c.Fleet.Port)
	}
	switch c.Runtime.Backend {
	case RuntimeDocker, RuntimeContainerd, RuntimeMemory:
	default:
		errs.add("runtime.backend", "must be one of docker, containerd or memory, got %q", c.Runtime.Backend)
	}
	if c.Runtime.StopTimeout < 0 {
		errs.add("runtime.stop_timeout", "must not be negative")
	}
	if c.Fleet.MemberTimeout <= 0 {
		errs.add("fleet.member_timeout", "must be positive")
	}
	if c.Fleet.Concurrency < 1 {
		errs.add("fleet.concurrency", "must be at least 1")
	}
	if c.Fleet.RetryMax < 0 {
		errs.add("fleet.retry_max", "must not be negative")
	}
	if c.Registry.MaxDepth < 1 {
		errs.add("registry.max_depth", "must be at least 1")
	}
	switch c.Log.Level {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		errs.add("log.level", "unknown level %q", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
