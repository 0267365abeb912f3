package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/archapi/pkg/log"
	"gopkg.in/yaml.v3"
)

const (
	RuntimeDocker     = "docker"
	RuntimeContainerd = "containerd"
	RuntimeMemory     = "memory"
)

// Config is the daemon configuration
type Config struct {
	// Hostname names this device; VEHICLE_NAME overrides it
	Hostname string `yaml:"hostname"`
	// RobotType selects the configuration directory; empty means detect it
	RobotType string `yaml:"robot_type"`
	// RobotTypeFiles are read in order when RobotType is empty
	RobotTypeFiles []string `yaml:"robot_type_files"`
	// Arch substitutes ${ARCH} in module images; empty means the host's
	Arch string `yaml:"arch"`

	// DataDir holds configurations/<robot_type>/ and modules/
	DataDir string `yaml:"data_dir"`
	// FleetDir holds <fleet>.yaml files
	FleetDir string `yaml:"fleet_dir"`
	// StateDir holds the bbolt state file; empty keeps state in memory
	StateDir string `yaml:"state_dir"`

	API       APIConfig       `yaml:"api"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Registry  RegistryConfig  `yaml:"registry"`
	Log       log.Config      `yaml:"log"`
}

type APIConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// ReadOnly refuses every mutating route
	ReadOnly bool `yaml:"read_only"`
}

type RuntimeConfig struct {
	Backend          string        `yaml:"backend"`
	DockerHost       string        `yaml:"docker_host"`
	ContainerdSocket string        `yaml:"containerd_socket"`
	Namespace        string        `yaml:"namespace"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
}

type FleetConfig struct {
	// Port is the member API port
	Port          int           `yaml:"port"`
	HostSuffix    string        `yaml:"host_suffix"`
	MemberTimeout time.Duration `yaml:"member_timeout"`
	RetryMax      int           `yaml:"retry_max"`
	Concurrency   int           `yaml:"concurrency"`
}

type DiscoveryConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Announce bool          `yaml:"announce"`
}

type RegistryConfig struct {
	URL       string        `yaml:"url"`
	AuthURL   string        `yaml:"auth_url"`
	Service   string        `yaml:"service"`
	Namespace string        `yaml:"namespace"`
	BaseOS    string        `yaml:"base_os"`
	MaxDepth  int           `yaml:"max_depth"`
	RetryMax  int           `yaml:"retry_max"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		RobotTypeFiles: []string{
			"/data/config/robot_type",
			"/data/stats/init_sd_card/parameters/robot_type",
		},
		DataDir:  "/data/assets/dt-architecture-data",
		FleetDir: "/data/config/fleets",
		API: APIConfig{
			Port: 8083,
		},
		Runtime: RuntimeConfig{
			Backend:          RuntimeDocker,
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "archapi",
			StopTimeout:      10 * time.Second,
		},
		Fleet: FleetConfig{
			Port:          8083,
			HostSuffix:    ".local",
			MemberTimeout: 10 * time.Second,
			RetryMax:      2,
			Concurrency:   8,
		},
		Discovery: DiscoveryConfig{
			Timeout: 3 * time.Second,
		},
		Registry: RegistryConfig{
			URL:       "https://registry-1.docker.io",
			AuthURL:   "https://auth.docker.io/token",
			Service:   "registry.docker.io",
			Namespace: "duckietown",
			BaseOS:    "ubuntu",
			MaxDepth:  16,
			RetryMax:  3,
			Timeout:   30 * time.Second,
		},
		Log: log.Config{
			Level: log.InfoLevel,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrRobotTypeUnknown is returned when no robot type is configured or found
var ErrRobotTypeUnknown = errors.New("could not find robot_type in expected paths")
