package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/archapi/pkg/log"
)

// LookupFunc reads an environment variable
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment:
//
//	VEHICLE_NAME, ROBOT_TYPE, ARCH
//	ARCHAPI_DATA_DIR, ARCHAPI_FLEET_DIR, ARCHAPI_STATE_DIR
//	ARCHAPI_PORT, ARCHAPI_READ_ONLY
//	ARCHAPI_RUNTIME, ARCHAPI_DOCKER_HOST, ARCHAPI_CONTAINERD_SOCKET
//	ARCHAPI_MEMBER_TIMEOUT, ARCHAPI_LOG_LEVEL, ARCHAPI_LOG_JSON
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	strs := map[string]*string{
		"VEHICLE_NAME":              &c.Hostname,
		"ROBOT_TYPE":                &c.RobotType,
		"ARCH":                      &c.Arch,
		"ARCHAPI_DATA_DIR":          &c.DataDir,
		"ARCHAPI_FLEET_DIR":         &c.FleetDir,
		"ARCHAPI_STATE_DIR":         &c.StateDir,
		"ARCHAPI_RUNTIME":           &c.Runtime.Backend,
		"ARCHAPI_DOCKER_HOST":       &c.Runtime.DockerHost,
		"ARCHAPI_CONTAINERD_SOCKET": &c.Runtime.ContainerdSocket,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("ARCHAPI_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = log.Level(strings.ToLower(v))
	}
	if v, ok := lookup("ARCHAPI_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ARCHAPI_PORT %q: %w", v, err)
		}
		c.API.Port = port
	}
	if v, ok := lookup("ARCHAPI_MEMBER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ARCHAPI_MEMBER_TIMEOUT %q: %w", v, err)
		}
		c.Fleet.MemberTimeout = d
	}
	bools := map[string]*bool{
		"ARCHAPI_READ_ONLY": &c.API.ReadOnly,
		"ARCHAPI_LOG_JSON":  &c.Log.JSONOutput,
	}
	for key, field := range bools {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*field = b
		}
	}
	return nil
}

// ResolveHostname falls back to the OS hostname
func (c *Config) ResolveHostname() error {
	if c.Hostname != "" {
		return nil
	}
	name, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	c.Hostname = name
	return nil
}

// DetectRobotType reads the first line of the first existing robot type
// file when no robot type is configured
func (c *Config) DetectRobotType() error {
	if c.RobotType != "" {
		return nil
	}
	for _, path := range c.RobotTypeFiles {
		rt, err := firstLine(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read robot type from %s: %w", path, err)
		}
		if rt != "" {
			c.RobotType = rt
			return nil
		}
	}
	return ErrRobotTypeUnknown
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", scanner.Err()
}
