package catalog

import (
	"fmt"
	"regexp"
	goruntime "runtime"
	"strconv"
	"strings"

	"github.com/cuemby/archapi/pkg/types"
)

// archToken matches ${ARCH} and ${ARCH-default} in image references
var archToken = regexp.MustCompile(`\$\{ARCH(?:-([^}]*))?\}`)

// moduleFile is the on-disk representation of a module definition
type moduleFile struct {
	Type          string        `yaml:"type"`
	Description   string        `yaml:"description"`
	Configuration *rawContainer `yaml:"configuration"`
}

// rawContainer uses compose-like notation; unknown keys land in Extra
type rawContainer struct {
	Image         string               `yaml:"image"`
	ContainerName string               `yaml:"container_name"`
	Name          string               `yaml:"name"`
	Command       types.Command        `yaml:"command"`
	Ports         []string             `yaml:"ports"`
	Volumes       []string             `yaml:"volumes"`
	Environment   types.Environment    `yaml:"environment"`
	Restart       string               `yaml:"restart"`
	RestartPolicy *types.RestartPolicy `yaml:"restart_policy"`
	Privileged    bool                 `yaml:"privileged"`
	MemLimit      string               `yaml:"mem_limit"`
	MemswapLimit  string               `yaml:"memswap_limit"`
	Detach        *bool                `yaml:"detach"`
	TTY           bool                 `yaml:"tty"`
	StdinOpen     bool                 `yaml:"stdin_open"`
	NetworkMode   string               `yaml:"network_mode"`
	Labels        map[string]string    `yaml:"labels"`
	Extra         map[string]any       `yaml:",inline"`
}

// HostArch returns the image tag for the architecture this binary runs on
func HostArch() string {
	switch goruntime.GOARCH {
	case "arm":
		return "arm32v7"
	case "arm64":
		return "arm64v8"
	default:
		return goruntime.GOARCH
	}
}

// expandArch replaces architecture placeholders in an image reference.
// The configured arch wins, then the token default, then the host arch.
func expandArch(image, arch string) string {
	return archToken.ReplaceAllStringFunc(image, func(tok string) string {
		if arch != "" {
			return arch
		}
		if m := archToken.FindStringSubmatch(tok); len(m) > 1 && m[1] != "" {
			return m[1]
		}
		return HostArch()
	})
}

// normalizePorts turns "external:internal" specs into internal -> external
func normalizePorts(specs []string) (map[string]int, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	ports := make(map[string]int, len(specs))
	for _, spec := range specs {
		parts := strings.Split(strings.TrimSpace(spec), ":")

		var external, internal string
		switch len(parts) {
		case 1:
			internal = parts[0]
			external, _, _ = strings.Cut(parts[0], "/")
		case 2:
			external, internal = parts[0], parts[1]
		case 3:
			// host IP prefix is not representable in the mapping
			external, internal = parts[1], parts[2]
		default:
			return nil, fmt.Errorf("invalid port spec %q", spec)
		}

		ext, err := strconv.Atoi(external)
		if err != nil || ext <= 0 || ext > 65535 {
			return nil, fmt.Errorf("invalid external port in %q", spec)
		}
		num, proto, hasProto := strings.Cut(internal, "/")
		if n, err := strconv.Atoi(num); err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("invalid internal port in %q", spec)
		}
		if hasProto && proto != "tcp" && proto != "udp" && proto != "sctp" {
			return nil, fmt.Errorf("invalid protocol in %q", spec)
		}

		ports[internal] = ext
	}
	return ports, nil
}

// normalizeVolumes turns "host:container[:mode]" specs into host -> bind
func normalizeVolumes(specs []string) (map[string]types.VolumeBind, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	vols := make(map[string]types.VolumeBind, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid volume spec %q", spec)
		}

		mode := "rw"
		if len(parts) == 3 {
			mode = parts[2]
			if mode != "rw" && mode != "ro" {
				return nil, fmt.Errorf("invalid volume mode in %q", spec)
			}
		}
		vols[parts[0]] = types.VolumeBind{Target: parts[1], Mode: mode}
	}
	return vols, nil
}

// normalize converts a parsed module file into a ModuleDefinition
func normalize(typ string, f *moduleFile, arch string) (*types.ModuleDefinition, error) {
	if f.Configuration == nil {
		return nil, fmt.Errorf("module %s has no configuration section", typ)
	}
	raw := f.Configuration
	if raw.Image == "" {
		return nil, fmt.Errorf("module %s has no image", typ)
	}

	ports, err := normalizePorts(raw.Ports)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", typ, err)
	}
	volumes, err := normalizeVolumes(raw.Volumes)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", typ, err)
	}

	restart := raw.RestartPolicy
	if raw.Restart != "" {
		restart, err = types.ParseRestartPolicy(raw.Restart)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", typ, err)
		}
	}

	name := raw.Name
	if raw.ContainerName != "" {
		name = raw.ContainerName
	}

	detach := true
	if raw.Detach != nil {
		detach = *raw.Detach
	}

	var extra map[string]any
	if len(raw.Extra) > 0 {
		extra = raw.Extra
	}

	return &types.ModuleDefinition{
		Type:        typ,
		Description: f.Description,
		Configuration: types.ContainerSpec{
			Image:         expandArch(raw.Image, arch),
			Name:          name,
			Command:       raw.Command,
			Ports:         ports,
			Volumes:       volumes,
			Environment:   raw.Environment,
			RestartPolicy: restart,
			Privileged:    raw.Privileged,
			MemLimit:      raw.MemLimit,
			MemswapLimit:  raw.MemswapLimit,
			Detach:        detach,
			TTY:           raw.TTY,
			StdinOpen:     raw.StdinOpen,
			NetworkMode:   raw.NetworkMode,
			Labels:        raw.Labels,
			Extra:         extra,
		},
	}, nil
}
