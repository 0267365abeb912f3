package fleet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	"gopkg.in/yaml.v3"
)

// Files reads fleet definitions from <dir>/<name>.yaml.
//
// The devices key is either an ordered mapping of hostname to device kind
// or a list of hostnames.
type Files struct {
	dir string
}

// NewFiles creates a fleet file reader
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

// Dir returns the fleet directory
func (f *Files) Dir() string {
	return f.dir
}

// List returns the sorted fleet names
func (f *Files) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read fleet directory: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one fleet
func (f *Files) Load(name string) (*types.Fleet, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, errdefs.Invalidf("invalid fleet name %q", name)
	}
	path := filepath.Join(f.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("fleet file not found in %s", path)
		}
		return nil, fmt.Errorf("failed to read fleet %s: %w", name, err)
	}
	devices, err := parseDevices(data)
	if err != nil {
		return nil, errdefs.Decode(err, "malformed fleet file %s", path)
	}
	return &types.Fleet{Name: name, Devices: devices}, nil
}

// All loads every fleet. Malformed files are skipped.
func (f *Files) All() ([]*types.Fleet, error) {
	names, err := f.List()
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("fleet")
	fleets := make([]*types.Fleet, 0, len(names))
	for _, name := range names {
		fl, err := f.Load(name)
		if err != nil {
			logger.Warn().Err(err).Str("fleet", name).Msg("Skipping fleet file")
			continue
		}
		fleets = append(fleets, fl)
	}
	return fleets, nil
}

func parseDevices(data []byte) ([]types.FleetDevice, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", root.Line)
	}

	var devicesNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "devices" {
			devicesNode = root.Content[i+1]
		}
	}
	if devicesNode == nil {
		return nil, fmt.Errorf("no devices key")
	}

	var devices []types.FleetDevice
	seen := map[string]bool{}
	add := func(hostname, kind string, line int) error {
		if hostname == "" {
			return fmt.Errorf("line %d: empty hostname", line)
		}
		if seen[hostname] {
			return fmt.Errorf("line %d: duplicate device %s", line, hostname)
		}
		seen[hostname] = true
		devices = append(devices, types.FleetDevice{Hostname: hostname, Kind: kind})
		return nil
	}

	switch devicesNode.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(devicesNode.Content); i += 2 {
			key, value := devicesNode.Content[i], devicesNode.Content[i+1]
			kind := ""
			if value.Kind == yaml.ScalarNode && value.Tag != "!!null" {
				kind = value.Value
			}
			if err := add(key.Value, kind, key.Line); err != nil {
				return nil, err
			}
		}
	case yaml.SequenceNode:
		for _, item := range devicesNode.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: expected a hostname", item.Line)
			}
			if err := add(item.Value, "", item.Line); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("line %d: devices must be a mapping or a list", devicesNode.Line)
	}
	return devices, nil
}
