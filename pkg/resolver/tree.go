package resolver

import (
	"fmt"
	"sort"

	"github.com/cuemby/archapi/pkg/types"
)

// Tree is a resolved configuration together with the sub-configurations
// its device kinds run
type Tree struct {
	Configuration *types.ResolvedConfiguration `json:"configuration"`
	Devices       map[string]*Tree             `json:"devices,omitempty"`
	// Cycle marks a node that was already being expanded higher up
	Cycle bool `json:"cycle,omitempty"`
}

// ResolveTree resolves name for robotType and then, recursively, every
// devices.<kind>.configuration it declares, resolved for that kind.
// A configuration reached again on its own path is marked as a cycle
// instead of being expanded.
func (r *Resolver) ResolveTree(robotType, name string) (*Tree, error) {
	return r.resolveTree(robotType, name, map[string]bool{})
}

func (r *Resolver) resolveTree(robotType, name string, path map[string]bool) (*Tree, error) {
	key := robotType + "/" + name
	if path[key] {
		return &Tree{Cycle: true}, nil
	}

	rc, err := r.ResolveFor(robotType, name)
	if err != nil {
		return nil, err
	}
	node := &Tree{Configuration: rc}
	if len(rc.Devices) == 0 {
		return node, nil
	}

	path[key] = true
	defer delete(path, key)

	kinds := make([]string, 0, len(rc.Devices))
	for kind := range rc.Devices {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	node.Devices = make(map[string]*Tree, len(kinds))
	for _, kind := range kinds {
		sub, err := r.resolveTree(kind, rc.Devices[kind].Configuration, path)
		if err != nil {
			return nil, fmt.Errorf("device %s of %s: %w", kind, name, err)
		}
		node.Devices[kind] = sub
	}
	return node, nil
}
