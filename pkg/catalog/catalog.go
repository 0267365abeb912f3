package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/log"
	"github.com/cuemby/archapi/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	configurationsDir = "configurations"
	modulesDir        = "modules"
	fileExt           = ".yaml"
)

// Options configures a Catalog
type Options struct {
	// Root is the data directory holding configurations/ and modules/
	Root string
	// Arch replaces ${ARCH} tokens in images. Empty means token default, then host.
	Arch string
	// OnChange is called after a module file change invalidated the cache
	OnChange func(moduleType string)
}

// Catalog is the read-only store of configuration and module definitions.
// Module definitions are normalized once and cached until their file changes.
type Catalog struct {
	root     string
	arch     string
	onChange func(string)
	logger   zerolog.Logger

	mu      sync.RWMutex
	modules map[string]*cachedModule
}

type cachedModule struct {
	def     *types.ModuleDefinition
	modTime time.Time
	size    int64
}

// New creates a catalog rooted at opts.Root
func New(opts Options) (*Catalog, error) {
	if opts.Root == "" {
		return nil, errdefs.Invalidf("catalog root is required")
	}
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog root: %w", err)
	}
	if !info.IsDir() {
		return nil, errdefs.Invalidf("catalog root %s is not a directory", opts.Root)
	}

	return &Catalog{
		root:     opts.Root,
		arch:     opts.Arch,
		onChange: opts.OnChange,
		logger:   log.WithComponent("catalog"),
		modules:  make(map[string]*cachedModule),
	}, nil
}

// Root returns the data directory
func (c *Catalog) Root() string {
	return c.root
}

// Arch returns the configured architecture tag, which may be empty
func (c *Catalog) Arch() string {
	return c.arch
}

// ListConfigurations returns the configuration names available for a robot type
func (c *Catalog) ListConfigurations(robotType string) ([]string, error) {
	if err := validName(robotType); err != nil {
		return nil, err
	}
	dir := filepath.Join(c.root, configurationsDir, robotType)
	names, err := listYAML(dir)
	if os.IsNotExist(err) {
		return nil, errdefs.NotFoundf("no configurations for robot type %s", robotType)
	}
	return names, err
}

// Configuration loads a configuration definition for a robot type
func (c *Catalog) Configuration(robotType, name string) (*types.ConfigurationDefinition, error) {
	if err := validName(robotType); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(c.root, configurationsDir, robotType, name+fileExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("configuration %s not found for robot type %s", name, robotType)
		}
		return nil, fmt.Errorf("failed to read configuration %s: %w", name, err)
	}

	var def types.ConfigurationDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errdefs.Decode(err, "malformed configuration file %s", path)
	}
	for instance, m := range def.Modules {
		if m.Type == "" {
			return nil, errdefs.Decode(nil, "configuration %s: module %s has no type", name, instance)
		}
	}
	for kind, d := range def.Devices {
		if d.Configuration == "" {
			return nil, errdefs.Decode(nil, "configuration %s: device %s has no configuration", name, kind)
		}
	}

	def.Name = name
	def.RobotType = robotType
	return &def, nil
}

// ListModules returns all known module types
func (c *Catalog) ListModules() ([]string, error) {
	names, err := listYAML(filepath.Join(c.root, modulesDir))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	return names, err
}

// Module returns the normalized definition of a module type. The returned
// value is a copy and may be modified by the caller.
func (c *Catalog) Module(typ string) (*types.ModuleDefinition, error) {
	if err := validName(typ); err != nil {
		return nil, err
	}

	path := c.modulePath(typ)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.invalidate(typ)
			return nil, errdefs.NotFoundf("module type %s not found", typ)
		}
		return nil, fmt.Errorf("failed to stat module %s: %w", typ, err)
	}

	c.mu.RLock()
	cached, ok := c.modules[typ]
	c.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cloneModule(cached.def), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", typ, err)
	}
	var f moduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errdefs.Decode(err, "malformed module file %s", path)
	}
	def, err := normalize(typ, &f, c.arch)
	if err != nil {
		return nil, errdefs.Decode(err, "invalid module file %s", path)
	}

	c.mu.Lock()
	c.modules[typ] = &cachedModule{def: def, modTime: info.ModTime(), size: info.Size()}
	c.mu.Unlock()

	c.logger.Debug().Str("module", typ).Str("image", def.Configuration.Image).Msg("Module loaded")
	return cloneModule(def), nil
}

// Watch invalidates cached modules when their files change. It blocks
// until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Join(c.root, modulesDir)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	c.logger.Info().Str("dir", dir).Msg("Watching module definitions")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			c.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (c *Catalog) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, fileExt) {
		return
	}
	typ := strings.TrimSuffix(base, fileExt)

	c.invalidate(typ)
	c.logger.Debug().Str("module", typ).Str("op", event.Op.String()).Msg("Module definition changed")
	if c.onChange != nil {
		c.onChange(typ)
	}
}

func (c *Catalog) invalidate(typ string) {
	c.mu.Lock()
	delete(c.modules, typ)
	c.mu.Unlock()
}

func (c *Catalog) modulePath(typ string) string {
	return filepath.Join(c.root, modulesDir, typ+fileExt)
}

// validName rejects names that would escape the catalog directories
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errdefs.Invalidf("invalid name %q", name)
	}
	return nil
}

func listYAML(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

func cloneModule(d *types.ModuleDefinition) *types.ModuleDefinition {
	out := *d
	out.Configuration = d.Configuration.Clone()
	return &out
}
